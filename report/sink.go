package report

import (
	"context"
	"errors"
)

var ErrNotification = errors.New("state notification failed")

// Notification carries the flattened state of one or more devices. AgentUserID is empty for
// notifications that are broadcast once instead of sent per user.
type Notification struct {
	RequestID   string
	AgentUserID string
	States      map[string]map[string]any
}

type Sink interface {
	Notify(ctx context.Context, notification Notification) error
}

// Fanout delivers a notification to every sink, even when an earlier one fails.
type Fanout []Sink

func (f Fanout) Notify(ctx context.Context, notification Notification) error {
	var errs []error
	for _, sink := range f {
		if err := sink.Notify(ctx, notification); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
