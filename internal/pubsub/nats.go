package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"cove-indexer/internal/config"
	"cove-indexer/internal/entity"
)

// Header keys set on every change message.
const (
	HeaderEventID  = "Cove-Event-Id"
	HeaderEntityID = "Cove-Entity-Id"
)

// Publisher fans committed entity changes out to NATS subjects
// "<prefix>.<Kind>".
type Publisher struct {
	nc      *nats.Conn
	prefix  string
	timeout time.Duration
	logger  zerolog.Logger
}

// Connect dials NATS using cfg.
func Connect(cfg config.NATSConfig, logger zerolog.Logger) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("nats url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name("cove-indexer"),
		nats.Timeout(timeout),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = "cove"
	}
	l := logger.With().Str("component", "pubsub").Logger()
	l.Info().Str("url", cfg.URL).Msg("connected to nats")
	return &Publisher{nc: nc, prefix: prefix, timeout: timeout, logger: l}, nil
}

// Subject returns the subject entities of kind are published on.
func (p *Publisher) Subject(kind entity.Kind) string {
	return p.prefix + "." + string(kind)
}

// Publish sends one message per changed entity and flushes.
func (p *Publisher) Publish(ctx context.Context, eventID string, changes []entity.Entity) error {
	if p == nil || p.nc == nil {
		return errors.New("nats publisher not connected")
	}
	for _, e := range changes {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", e.EntityKind(), e.EntityID(), err)
		}
		msg := nats.NewMsg(p.Subject(e.EntityKind()))
		msg.Header.Set(HeaderEventID, eventID)
		msg.Header.Set(HeaderEntityID, e.EntityID())
		msg.Data = data
		if err := p.nc.PublishMsg(msg); err != nil {
			return fmt.Errorf("publish %s: %w", msg.Subject, err)
		}
	}
	timeout := p.timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	// flushing requires a deadline
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := p.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush nats: %w", err)
	}
	return nil
}

// Ready reports whether the connection is usable.
func (p *Publisher) Ready() bool {
	if p == nil || p.nc == nil {
		return false
	}
	return p.nc.Status() == nats.CONNECTED
}

// Close drains the connection. Calling it twice is safe.
func (p *Publisher) Close() error {
	if p == nil || p.nc == nil || p.nc.IsClosed() || p.nc.IsDraining() {
		return nil
	}
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
		return fmt.Errorf("drain nats: %w", err)
	}
	p.logger.Info().Msg("nats connection closed")
	return nil
}
