// Package messaging holds the broker-neutral pieces shared by the audit
// components: the message type, the publish options, the subject layout and
// connection health checks. The NATS adapter lives in messaging/nats.
package messaging

import (
	"context"
	"time"
)

// Message is a broker message. Headers is nil when the message carries none.
type Message struct {
	Subject   string
	Data      []byte
	Headers   map[string]string
	Timestamp time.Time
}

// Publisher sends messages without waiting for persistence.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
	PublishMsg(ctx context.Context, msg *Message) error
}

// Client is a live broker connection.
type Client interface {
	Publisher

	// Request sends data and waits up to timeout for one reply.
	Request(ctx context.Context, subject string, data []byte, timeout time.Duration) (*Message, error)

	IsConnected() bool

	// Drain flushes pending publishes and in-flight handlers, then closes.
	Drain() error
	Close() error
}

// PublishOption configures message publishing behavior.
type PublishOption func(*PublishOptions)

// PublishOptions is the resolved set of publish options.
type PublishOptions struct {
	Headers map[string]string
	MsgID   string
}

// WithHeader adds a header to the published message.
func WithHeader(key, value string) PublishOption {
	return func(o *PublishOptions) {
		if o.Headers == nil {
			o.Headers = make(map[string]string)
		}
		o.Headers[key] = value
	}
}

// WithMsgID sets the broker-level deduplication ID.
func WithMsgID(id string) PublishOption {
	return func(o *PublishOptions) {
		o.MsgID = id
	}
}

// ApplyPublishOptions resolves opts into a PublishOptions value.
func ApplyPublishOptions(opts ...PublishOption) PublishOptions {
	var o PublishOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
