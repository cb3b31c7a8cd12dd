package sink

import (
	"context"
	"errors"

	"github.com/i474232898/weather-station-feed/internal/sensor"
)

// Multi writes each state to every writer in turn. A failing writer does not
// stop the others; all errors are returned joined.
type Multi []sensor.StateWriter

func (m Multi) WriteState(ctx context.Context, st sensor.State) error {
	var errs []error
	for _, w := range m {
		if err := w.WriteState(ctx, st); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
