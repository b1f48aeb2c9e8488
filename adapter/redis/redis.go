// Package redis publishes artifact events to a Redis pub/sub channel.
//
// The channel name may contain the {kind} placeholder so marker and
// segmentation events reach separate subscribers:
//
//	segmark:{kind}:generated -> segmark:markers:generated
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/babi2707/segmark/adapter"
)

// DefaultChannel is the default pub/sub channel name.
const DefaultChannel = "segmark:artifact_generated"

// KindPlaceholder is replaced with the event kind in channel names.
const KindPlaceholder = "{kind}"

// DefaultTimeout is the default per-publish timeout.
const DefaultTimeout = 5 * time.Second

// Config configures the Redis pub/sub adapter.
type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Channel is the pub/sub channel name (default: segmark:artifact_generated).
	// It may contain KindPlaceholder.
	Channel string
	// Timeout is the per-publish timeout (default 5s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure.
	Retries int
}

// Adapter publishes artifact events via Redis PUBLISH.
type Adapter struct {
	config Config
	client *goredis.Client
}

// New creates a Redis pub/sub adapter from the given config.
// Returns an error if the URL is empty or invalid.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}

	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}

	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}

	return &Adapter{
		config: cfg,
		client: goredis.NewClient(opts),
	}, nil
}

// Channel returns the configured channel name, placeholder included.
func (a *Adapter) Channel() string {
	return a.config.Channel
}

// ChannelFor returns the channel an event of kind is published to.
func (a *Adapter) ChannelFor(kind string) string {
	return strings.ReplaceAll(a.config.Channel, KindPlaceholder, kind)
}

// Publish sends the event as JSON to its channel.
// Publishing to a channel with no subscribers is not an error.
func (a *Adapter) Publish(ctx context.Context, event *adapter.ArtifactGeneratedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}
	channel := a.ChannelFor(event.Kind)

	return adapter.Retry(ctx, "redis", a.config.Retries, func(ctx context.Context) error {
		publishCtx, cancel := context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()
		return a.client.Publish(publishCtx, channel, body).Err()
	}, nil)
}

// Close releases adapter resources.
func (a *Adapter) Close() error {
	return a.client.Close()
}

var _ adapter.Adapter = (*Adapter)(nil)
