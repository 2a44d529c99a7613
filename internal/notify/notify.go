// Package notify publishes the latest model score to downstream subscribers.
package notify

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/wonny/fluscore/internal/contracts"
	"github.com/wonny/fluscore/pkg/config"
	"github.com/wonny/fluscore/pkg/logger"
	"github.com/wonny/fluscore/pkg/redis"
)

// New builds the notifier selected by cfg.Driver; a disabled config yields Nop
// ⭐ SSOT: notifier selection happens here only
func New(cfg config.NotifyConfig, rdb *redis.Client, log *logger.Logger) (contracts.Notifier, error) {
	if !cfg.Enabled {
		return Nop{}, nil
	}

	switch cfg.Driver {
	case config.NotifyDriverStomp:
		if cfg.URI == "" || cfg.Destination == "" {
			return nil, fmt.Errorf("stomp notifier requires MQ_URI and MQ_DEST")
		}
		return NewStomp(cfg, log), nil
	case config.NotifyDriverRedis:
		if rdb == nil || !rdb.Enabled() {
			return nil, fmt.Errorf("redis notifier requires REDIS_ENABLED=true")
		}
		return NewRedis(rdb, cfg.Channel, log), nil
	default:
		return nil, fmt.Errorf("unknown notify driver %q", cfg.Driver)
	}
}

// FormatMessage renders the message body shared by every driver
func FormatMessage(day time.Time, value float64) string {
	return fmt.Sprintf("date=%s\nvalue=%s", day.Format(contracts.DateLayout), formatValue(value))
}

// formatValue prints the shortest representation, keeping a decimal point on whole numbers
func formatValue(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !math.IsInf(v, 0) && !math.IsNaN(v) && !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

// Nop drops every notification
type Nop struct{}

func (Nop) Publish(context.Context, time.Time, float64) error { return nil }

var _ contracts.Notifier = Nop{}
