// Package notify alerts the sales team on chat platforms when a lead needs
// a human agent or a catalog sync fails.
package notify

import (
	"context"
	"errors"
	"log"
)

// Event is a platform-neutral alert.
type Event struct {
	Title    string  // headline
	Body     string  // detail text
	Severity string  // "info", "warning", "error", "success"
	Color    string  // sidebar color (e.g. "#36a64f")
	Fields   []Field // key-value metadata pairs
	URL      string  // admin panel link, when known
	// Urgent events need a human now; adapters ping the configured mention.
	Urgent bool
}

// Field is a key-value pair displayed with an event.
type Field struct {
	Name  string
	Value string
	Short bool
}

// Notifier delivers events to one destination.
type Notifier interface {
	Notify(ctx context.Context, evt Event) error
}

// Multi fans an event out to every notifier. All are attempted; errors are
// joined.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, evt Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes events to the process log. It is the notifier used when no
// chat platform is configured.
type Log struct{}

func (Log) Notify(ctx context.Context, evt Event) error {
	log.Printf("notify: %s: %s", evt.Title, evt.Body)
	return nil
}
