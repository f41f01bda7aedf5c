// Package natsutil publishes and consumes JSON messages over NATS with
// OpenTelemetry trace context carried in message headers.
package natsutil

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// headerCarrier adapts nats.Msg headers for the OTel TextMapCarrier.
type headerCarrier nats.Msg

func (c *headerCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *headerCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *headerCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// MsgPublisher is satisfied by *nats.Conn.
type MsgPublisher interface {
	PublishMsg(m *nats.Msg) error
}

// Encode builds the message for v on subject, injecting the trace context
// from ctx.
func Encode[T any](ctx context.Context, subject string, v T) (*nats.Msg, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("natsutil: encode %s: %w", subject, err)
	}
	msg := &nats.Msg{Subject: subject, Data: data}
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(msg))
	return msg, nil
}

// Decode unmarshals msg into a T and returns the context extracted from its
// headers.
func Decode[T any](msg *nats.Msg) (context.Context, T, error) {
	var v T
	if err := json.Unmarshal(msg.Data, &v); err != nil {
		return nil, v, fmt.Errorf("natsutil: decode %s: %w", msg.Subject, err)
	}
	ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*headerCarrier)(msg))
	return ctx, v, nil
}

// Publish serializes v as JSON and publishes it to subject.
func Publish[T any](ctx context.Context, p MsgPublisher, subject string, v T) error {
	msg, err := Encode(ctx, subject, v)
	if err != nil {
		return err
	}
	if err := p.PublishMsg(msg); err != nil {
		return fmt.Errorf("natsutil: publish %s: %w", subject, err)
	}
	return nil
}

// Handle returns a nats.MsgHandler that decodes each message into a T and
// calls h. Malformed messages and handler errors are logged and dropped.
func Handle[T any](logger *slog.Logger, h func(context.Context, T) error) nats.MsgHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(msg *nats.Msg) {
		ctx, v, err := Decode[T](msg)
		if err != nil {
			logger.Warn("natsutil: dropping malformed message", "subject", msg.Subject, "error", err)
			return
		}
		if err := h(ctx, v); err != nil {
			logger.Error("natsutil: handler failed", "subject", msg.Subject, "error", err)
		}
	}
}

// QueueSubscribe registers h on subject within a queue group, so several
// consumers share the stream.
func QueueSubscribe[T any](nc *nats.Conn, subject, queue string, logger *slog.Logger, h func(context.Context, T) error) (*nats.Subscription, error) {
	sub, err := nc.QueueSubscribe(subject, queue, Handle(logger, h))
	if err != nil {
		return nil, fmt.Errorf("natsutil: subscribe %s: %w", subject, err)
	}
	return sub, nil
}
