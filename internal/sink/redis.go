package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/banshee-data/proximity.report/internal/beacon"
)

// Redis appends events to a redis stream with XADD. Each entry carries the
// kind, beacon and visit as fields plus the full event as JSON under "data".
type Redis struct {
	Client *redis.Client
	Stream string
	MaxLen int64 // approximate trim length; 0 keeps everything
}

func (r Redis) Deliver(ctx context.Context, events []beacon.Event) error {
	for _, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode %s event: %w", e.Kind, err)
		}
		args := &redis.XAddArgs{
			Stream: r.Stream,
			Values: map[string]interface{}{
				"kind":      string(e.Kind),
				"beacon_id": e.Beacon.String(),
				"visit_id":  e.VisitID,
				"data":      string(data),
			},
		}
		if r.MaxLen > 0 {
			args.MaxLen = r.MaxLen
			args.Approx = true
		}
		if err := r.Client.XAdd(ctx, args).Err(); err != nil {
			return fmt.Errorf("xadd %s: %w", r.Stream, err)
		}
	}
	return nil
}
