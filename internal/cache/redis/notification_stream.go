package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/upbitbot/internal/domain"
)

// NotificationStreamKey is the Redis stream notifications are appended to.
const NotificationStreamKey = KeyPrefix + "notifications"

// streamMaxLen caps the stream with XADD MAXLEN ~.
const streamMaxLen int64 = 10000

// NotificationStream appends forwarded notifications to a capped Redis
// stream so dashboards in other processes can tail them. It satisfies
// notify.Sender.
type NotificationStream struct {
	rdb    redis.Cmdable
	stream string
}

// NewNotificationStream creates a sender writing to NotificationStreamKey.
func NewNotificationStream(c *Client) *NotificationStream {
	return &NotificationStream{rdb: c.Underlying(), stream: NotificationStreamKey}
}

// Name implements notify.Sender.
func (s *NotificationStream) Name() string { return "redis" }

// Send appends n to the stream.
func (s *NotificationStream) Send(ctx context.Context, n domain.Notification) error {
	args, err := notificationArgs(s.stream, n)
	if err != nil {
		return err
	}
	if err := s.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: append notification: %w", err)
	}
	return nil
}

func notificationArgs(stream string, n domain.Notification) (*redis.XAddArgs, error) {
	payload, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("redis: encode notification: %w", err)
	}
	return &redis.XAddArgs{
		Stream: stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{
			"kind":    string(n.Kind),
			"payload": payload,
		},
	}, nil
}
