package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/i474232898/weather-station-feed/internal/sensor"
)

const DefaultKeyPrefix = "weather-station"

// Redis keeps the latest state of each sensor in a hash at
// <prefix>:<object_id>. The value field is removed when the metric is absent.
type Redis struct {
	client redis.Cmdable
	prefix string
}

// NewRedis creates a Redis sink.
func NewRedis(client redis.Cmdable, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Redis{client: client, prefix: prefix}
}

// Key returns the hash key for st.
func (r *Redis) Key(st sensor.State) string {
	return r.prefix + ":" + st.ObjectID
}

func (r *Redis) WriteState(ctx context.Context, st sensor.State) error {
	key := r.Key(st)

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"id", st.ID,
			"name", st.Name,
			"metric", string(st.Metric),
			"unit", st.Unit,
			"icon", st.Icon,
			"updated_at", st.UpdatedAt.UTC().Format(time.RFC3339),
		)
		if st.Value != nil {
			pipe.HSet(ctx, key, "value", *st.Value)
		} else {
			pipe.HDel(ctx, key, "value")
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: write %s: %w", key, err)
	}
	return nil
}
