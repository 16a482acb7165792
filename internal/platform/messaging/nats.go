// Package messaging publishes triage events to NATS.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/ehr/triage/internal/domain/triage"
)

const DefaultSubjectPrefix = "triage"

type Config struct {
	URL           string
	Name          string
	SubjectPrefix string
	ReconnectWait time.Duration
	MaxReconnects int
	Timeout       time.Duration
}

// conn is the part of *nats.Conn the publisher needs.
type conn interface {
	Publish(subj string, data []byte) error
	Close()
}

// Publisher implements triage.EventSink. Events go to
// <prefix>.<event type>, e.g. triage.alert.created.
type Publisher struct {
	conn      conn
	prefix    string
	logger    zerolog.Logger
	connected atomic.Bool
}

// Connect dials NATS and keeps reconnecting in the background after a drop.
func Connect(cfg Config, logger zerolog.Logger) (*Publisher, error) {
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = -1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	p := &Publisher{
		prefix: subjectPrefix(cfg.SubjectPrefix),
		logger: logger.With().Str("component", "nats").Logger(),
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			p.connected.Store(false)
			p.logger.Warn().Err(err).Msg("disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			p.connected.Store(true)
			p.logger.Info().Str("url", nc.ConnectedUrl()).Msg("reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	p.conn = nc
	p.connected.Store(true)
	return p, nil
}

func newPublisher(c conn, prefix string, logger zerolog.Logger) *Publisher {
	p := &Publisher{conn: c, prefix: subjectPrefix(prefix), logger: logger}
	p.connected.Store(true)
	return p
}

func subjectPrefix(p string) string {
	p = strings.Trim(p, ".")
	if p == "" {
		return DefaultSubjectPrefix
	}
	return p
}

func (p *Publisher) Subject(t triage.EventType) string {
	return p.prefix + "." + string(t)
}

// Publish implements triage.EventSink.
func (p *Publisher) Publish(_ context.Context, evt triage.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", evt.Type, err)
	}
	subject := p.Subject(evt.Type)
	if err := p.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

func (p *Publisher) Connected() bool { return p.connected.Load() }

func (p *Publisher) Close() {
	p.connected.Store(false)
	p.conn.Close()
}
