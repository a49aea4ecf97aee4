package notify

import (
	"context"
	"errors"
	"fmt"
)

// Fanout delivers every alert to all sinks. Delivery fails if any sink fails.
type Fanout []Sink

var _ Sink = Fanout(nil)

func (f Fanout) Alert(ctx context.Context, a Alert) error {
	var errs []error
	for _, s := range f {
		if err := s.Alert(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrDeliveryFailure, errors.Join(errs...))
	}
	return nil
}

func (f Fanout) StartLoopingAlert(ctx context.Context, ownerID, taskID string) error {
	var errs []error
	for _, s := range f {
		if err := s.StartLoopingAlert(ctx, ownerID, taskID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) StopLoopingAlert(ownerID, taskID string) {
	for _, s := range f {
		s.StopLoopingAlert(ownerID, taskID)
	}
}
