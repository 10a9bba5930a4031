package feed

import (
	"context"
	"errors"

	"github.com/banshee-data/proximity.report/internal/monitoring"
	"github.com/banshee-data/proximity.report/internal/serialmux"
)

// Serial applies every line of a scanner mux subscription to target until
// ctx is done or the mux closes the subscription.
func Serial(ctx context.Context, mux serialmux.SerialMuxInterface, target Target) error {
	id, lines := mux.Subscribe()
	defer mux.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := HandleLine(ctx, target, line); err != nil {
				logLineError("serial", err)
			}
		}
	}
}

func logLineError(source string, err error) {
	if errors.Is(err, ErrUnrecognized) {
		monitoring.Debugf("%s feed: %v", source, err)
		return
	}
	monitoring.Warnf("%s feed: %v", source, err)
}
