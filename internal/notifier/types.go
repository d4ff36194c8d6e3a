package notifier

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrDelivery wraps every failed delivery.
	ErrDelivery = errors.New("notifier: delivery failed")
	// ErrNoChannel reports a recipient whose channel is not configured or unknown.
	ErrNoChannel = errors.New("notifier: no channel for recipient")
)

// Notifier delivers one message to one recipient.
type Notifier interface {
	Notify(ctx context.Context, recipient, subject, body string) (Delivery, error)
}

// Channel is a delivery backend for one recipient scheme.
// target is the recipient with the scheme prefix removed.
type Channel interface {
	Send(ctx context.Context, target, subject, body string) error
}

// Delivery confirms a successful send.
type Delivery struct {
	Channel   string    `json:"channel"`
	Recipient string    `json:"recipient"`
	Attempts  int       `json:"attempts"`
	At        time.Time `json:"at"`
}

// Outcome is the recorded result of one trigger evaluation that attempted delivery.
type Outcome struct {
	Recipient string    `json:"recipient"`
	Condition string    `json:"condition"`
	OK        bool      `json:"ok"`
	Channel   string    `json:"channel,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// Config controls delivery.
type Config struct {
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration

	TelegramToken string
	SMTP          SMTPConfig
}

type SMTPConfig struct {
	Addr     string
	From     string
	Username string
	Password string
	StartTLS bool
}

// NotificationEvent is published on the event bus for delivery lifecycle events.
type NotificationEvent struct {
	Channel   string    `json:"channel"`
	Recipient string    `json:"recipient"`
	Attempts  int       `json:"attempts"`
	At        time.Time `json:"at"`
	Error     string    `json:"error,omitempty"`
}
