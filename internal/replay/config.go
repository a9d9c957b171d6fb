package replay

import (
	"errors"
	"time"
)

// Modes supported by Run.
const (
	ModeReprocess = "reprocess"
	ModeLoad      = "load"
)

// Config holds configuration for a replay run.
type Config struct {
	BaseURL string        // Base URL of the service
	Mode    string        // ModeReprocess or ModeLoad
	Workers int           // Number of concurrent workers
	Timeout time.Duration // HTTP request timeout
	Limit   int           // Pending events fetched per page; 0 means all
	DryRun  bool          // List pending events without reprocessing

	// Load generation.
	Users  int    // Number of synthetic users
	Events int    // Number of events to submit
	TeamID string // Team assigned to synthetic users; empty for none
}

func (c *Config) validate() error {
	switch {
	case c.BaseURL == "":
		return errors.New("base url is required")
	case c.Workers <= 0:
		return errors.New("workers must be positive")
	case c.Mode != ModeReprocess && c.Mode != ModeLoad:
		return errors.New("mode must be reprocess or load")
	case c.Mode == ModeLoad && (c.Users <= 0 || c.Events <= 0):
		return errors.New("load mode needs positive users and events")
	}
	return nil
}

// Stats holds run statistics.
type Stats struct {
	Pending     int
	Reprocessed int
	Skipped     int
	Submitted   int
	Duplicate   int
	Failed      int
	Duration    time.Duration
}
