package notify

import (
	"context"
	"time"

	"github.com/wonny/fluscore/internal/contracts"
	"github.com/wonny/fluscore/pkg/logger"
	"github.com/wonny/fluscore/pkg/redis"
)

// Redis publishes score messages on a pub/sub channel
type Redis struct {
	client  *redis.Client
	channel string
	logger  *logger.Logger
}

// NewRedis creates a Redis notifier
func NewRedis(client *redis.Client, channel string, log *logger.Logger) *Redis {
	return &Redis{
		client:  client,
		channel: channel,
		logger:  log.WithField("module", "notify").WithField("driver", "redis"),
	}
}

func (r *Redis) Publish(ctx context.Context, day time.Time, value float64) error {
	if err := r.client.Publish(ctx, r.channel, FormatMessage(day, value)); err != nil {
		return err
	}
	r.logger.WithFields(map[string]interface{}{
		"channel": r.channel,
		"date":    day.Format(contracts.DateLayout),
	}).Info("Score published")
	return nil
}

var _ contracts.Notifier = (*Redis)(nil)
