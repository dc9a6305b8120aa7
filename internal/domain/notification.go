package domain

import "time"

// NotificationKind tags a notification for filtering and display.
type NotificationKind string

const (
	KindInfo    NotificationKind = "info"
	KindBuy     NotificationKind = "buy"
	KindSell    NotificationKind = "sell"
	KindWarning NotificationKind = "warning"
	KindError   NotificationKind = "error"
)

// Notification records one decision-worthy event.
type Notification struct {
	ID        string           `json:"id"`
	Kind      NotificationKind `json:"type"`
	Market    Market           `json:"market,omitempty"`
	Message   string           `json:"message"`
	Timestamp time.Time        `json:"timestamp"`
}

// Recorder accepts notifications. Implementations must be safe for
// concurrent use.
type Recorder interface {
	Record(n Notification)
}
