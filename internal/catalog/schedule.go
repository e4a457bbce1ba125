package catalog

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NextRun returns the next fire time of expr after from.
func NextRun(expr string, from time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("catalog: schedule %q: %w", expr, err)
	}
	return sched.Next(from), nil
}

// Schedule runs w on expr until ctx is cancelled. Ticks that find a run in
// progress are skipped. The returned cron is already started and stops when
// ctx is done.
func Schedule(ctx context.Context, expr string, w *Worker) (*cron.Cron, error) {
	c := cron.New(cron.WithParser(cronParser))
	_, err := c.AddFunc(expr, func() {
		run, err := w.Run(ctx, RunOpts{})
		switch {
		case errors.Is(err, ErrLocked):
			log.Printf("catalog: scheduled sync skipped: %v", err)
		case err != nil:
			log.Printf("catalog: scheduled sync: %v", err)
		default:
			log.Printf("catalog: scheduled sync %d done", run.ID)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: schedule %q: %w", expr, err)
	}
	c.Start()
	go func() {
		<-ctx.Done()
		c.Stop()
	}()
	if next, err := NextRun(expr, time.Now()); err == nil {
		log.Printf("catalog: next scheduled sync at %s", next.Format(time.RFC3339))
	}
	return c, nil
}
