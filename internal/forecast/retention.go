package forecast

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jonboulle/clockwork"
)

const DefaultRetention = 21 * 24 * time.Hour

type Pruner interface {
	DeletePredictionsBefore(ctx context.Context, cutoff time.Time) (raw, processed int64, err error)
}

// Retention removes predictions older than its window.
type Retention struct {
	store  Pruner
	clock  clockwork.Clock
	window time.Duration
}

func NewRetention(store Pruner, clock clockwork.Clock, window time.Duration) *Retention {
	if window <= 0 {
		window = DefaultRetention
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Retention{store: store, clock: clock, window: window}
}

func (r *Retention) Cutoff() time.Time {
	return r.clock.Now().UTC().Add(-r.window)
}

func (r *Retention) Apply(ctx context.Context) error {
	cutoff := r.Cutoff()
	raw, processed, err := r.store.DeletePredictionsBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("delete predictions before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	log.Printf("retention: removed %d raw and %d station predictions before %s", raw, processed, cutoff.Format(time.RFC3339))
	return nil
}
