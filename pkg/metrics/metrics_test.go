package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsOptions(t *testing.T) {
	Convey("Given a manager built with options", t, func() {
		registry := prometheus.NewRegistry()
		m := NewManager(
			WithNamespace("test"),
			WithSubsystem("rewards"),
			WithHistogramBuckets([]float64{1, 10}),
			WithRefreshInterval(5*time.Second),
			WithConstLabels(map[string]string{"env": "test"}),
			WithPrometheusRegistry(registry),
		)

		Convey("Then the options are applied", func() {
			So(m.namespace, ShouldEqual, "test")
			So(m.subsystem, ShouldEqual, "rewards")
			So(m.histogramBuckets, ShouldResemble, []float64{1, 10})
			So(m.RefreshInterval(), ShouldEqual, 5*time.Second)
			So(m.constLabels["env"], ShouldEqual, "test")
			So(m.Enabled(), ShouldBeTrue)
		})

		Convey("Then collectors are registered under the custom names", func() {
			m.eventsReceived.Inc()
			families, err := registry.Gather()
			So(err, ShouldBeNil)
			names := make([]string, 0, len(families))
			for _, f := range families {
				names = append(names, f.GetName())
			}
			So(names, ShouldContain, "test_rewards_events_received_total")
		})
	})

	Convey("Given empty option values", t, func() {
		m := NewManager(
			WithNamespace(""),
			WithSubsystem(""),
			WithHistogramBuckets(nil),
			WithRefreshInterval(0),
			WithPrometheusRegistry(prometheus.NewRegistry()),
		)

		Convey("Then defaults are kept", func() {
			So(m.namespace, ShouldEqual, "kudos")
			So(m.subsystem, ShouldEqual, "ledger")
			So(m.histogramBuckets, ShouldNotBeEmpty)
			So(m.RefreshInterval(), ShouldEqual, defaultRefreshInterval)
		})
	})
}

func TestGlobalRecorders(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("When every recorder is called", func() {
			So(func() {
				RecordEventReceived()
				RecordEventDuplicate()
				RecordEventProcessed()
				RecordEventFailed("user_not_found")
				RecordEvaluationLatency(1.5)
				UpdatePendingEvents(3)
				RecordEventReprocessed()
				RecordDispatchBackpressure()
				RecordGrant("streak_7")
				RecordXPAwarded("achievement", 15)
				RecordXPAwarded("admin", 0)
				RecordLevelUp()
				RecordTxRetry("memory")
				RecordTxDuration("memory", 0.2)
				RecordTeamSyncUpdate()
				RecordTeamSyncError()
				RecordNotificationPublished()
				RecordNotificationError()
				UpdateLeaderboardUsers(2)
				UpdateQueueSize("events", 1)
				UpdateQueueCapacity("events", 10)
				RecordQueueEnqueue("events")
				RecordQueueDequeue("events")
				RecordQueueEnqueueError("events", "full")
				UpdateWorkerCount("events", 4)
				RecordWorkerProcessingLatency("events", 2)
				RecordWorkerError("events")
				RecordHTTPRequest("/events", "POST", "201")
				RecordHTTPRequestDuration("/events", "POST", "201", 3)
				RecordErrorByComponent("engine", "tx")
				UpdateSystemMemoryUsage(1024)
				UpdateSystemGoroutineCount(8)
				RecordSystemGCPauseTime(0.3)
			}, ShouldNotPanic)
		})

		Convey("When a grant is recorded", func() {
			before, _ := Total("kudos_ledger_grants_total")
			RecordGrant("first_win")
			after, err := Total("kudos_ledger_grants_total")

			Convey("Then the total grows by one", func() {
				So(err, ShouldBeNil)
				So(after-before, ShouldEqual, 1)
			})
		})

		Convey("When an unknown family is requested", func() {
			_, err := Total("kudos_ledger_nope")

			Convey("Then ErrNotFound is returned", func() {
				So(err, ShouldEqual, ErrNotFound)
			})
		})

		Convey("Then the registry is exposed", func() {
			So(GetRegistry(), ShouldNotBeNil)
		})
	})
}
