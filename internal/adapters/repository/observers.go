package repository

import (
	"context"
	"sync"

	"github.com/okian/kudos/internal/domain/model"
)

// EventObserver is called after an event is stored.
type EventObserver func(ctx context.Context, e model.Event)

// UserChangeObserver is called after a user change is committed.
type UserChangeObserver func(ctx context.Context, c model.UserChange)

// Observers is the fan-out shared by every Store implementation.
type Observers struct {
	mu      sync.RWMutex
	events  []EventObserver
	changes []UserChangeObserver
}

// OnEventCreated registers fn.
func (o *Observers) OnEventCreated(fn EventObserver) {
	o.mu.Lock()
	o.events = append(o.events, fn)
	o.mu.Unlock()
}

// OnUserChanged registers fn.
func (o *Observers) OnUserChanged(fn UserChangeObserver) {
	o.mu.Lock()
	o.changes = append(o.changes, fn)
	o.mu.Unlock()
}

// NotifyEventCreated calls every event observer with a copy of e.
func (o *Observers) NotifyEventCreated(ctx context.Context, e model.Event) {
	o.mu.RLock()
	fns := o.events
	o.mu.RUnlock()
	for _, fn := range fns {
		fn(ctx, e.Clone())
	}
}

// NotifyUserChanged calls every change observer for each change.
func (o *Observers) NotifyUserChanged(ctx context.Context, changes ...model.UserChange) {
	if len(changes) == 0 {
		return
	}
	o.mu.RLock()
	fns := o.changes
	o.mu.RUnlock()
	for _, c := range changes {
		for _, fn := range fns {
			fn(ctx, c)
		}
	}
}
