// Package webhook delivers triage events to external HTTP endpoints, such as
// a paging system for charge nurses. Payloads are signed with HMAC-SHA256.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/triage/internal/domain/triage"
)

const (
	SignatureHeader = "X-Webhook-Signature"
	TimestampHeader = "X-Webhook-Timestamp"
	DeliveryHeader  = "X-Webhook-ID"
)

type Config struct {
	URLs   []string
	Secret string
	// Events are patterns such as "alert.created", "alert.*" or "*.popped".
	// Empty means "alert.*".
	Events  []string
	Timeout time.Duration
	Retries int
	Buffer  int
}

// Delivery is the signed body POSTed to every endpoint.
type Delivery struct {
	ID        string       `json:"id"`
	Type      string       `json:"type"`
	Event     triage.Event `json:"event"`
	Timestamp time.Time    `json:"timestamp"`
}

// Sink implements triage.EventSink. Publish only enqueues; Run performs the
// HTTP calls so a slow endpoint never delays a queue mutation.
type Sink struct {
	cfg     Config
	client  *resty.Client
	queue   chan Delivery
	logger  zerolog.Logger
	dropped atomic.Int64
	failed  atomic.Int64
}

func NewSink(cfg Config, logger zerolog.Logger) *Sink {
	if len(cfg.Events) == 0 {
		cfg.Events = []string{"alert.*"}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(time.Second).
		SetRetryMaxWaitTime(30 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})
	return &Sink{
		cfg:    cfg,
		client: client,
		queue:  make(chan Delivery, cfg.Buffer),
		logger: logger.With().Str("component", "webhook").Logger(),
	}
}

func (s *Sink) Publish(_ context.Context, evt triage.Event) error {
	if !s.matches(string(evt.Type)) {
		return nil
	}
	d := Delivery{
		ID:        uuid.New().String(),
		Type:      string(evt.Type),
		Event:     evt,
		Timestamp: time.Now().UTC(),
	}
	select {
	case s.queue <- d:
		return nil
	default:
		s.dropped.Add(1)
		return fmt.Errorf("webhook queue full, dropped %s", d.Type)
	}
}

// Run delivers queued events until ctx is cancelled.
func (s *Sink) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-s.queue:
			for _, url := range s.cfg.URLs {
				if err := s.deliver(ctx, url, d); err != nil {
					s.failed.Add(1)
					s.logger.Warn().Err(err).Str("url", url).Str("delivery_id", d.ID).Msg("webhook delivery failed")
				}
			}
		}
	}
}

func (s *Sink) deliver(ctx context.Context, url string, d Delivery) error {
	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal delivery: %w", err)
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader(SignatureHeader, "sha256="+SignPayload(body, s.cfg.Secret)).
		SetHeader(DeliveryHeader, d.ID).
		SetHeader(TimestampHeader, d.Timestamp.Format(time.RFC3339)).
		SetBody(body).
		Post(url)
	if err != nil {
		return err
	}
	if resp.StatusCode() >= http.StatusMultipleChoices {
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode())
	}
	return nil
}

// Dropped counts events discarded because the delivery queue was full.
func (s *Sink) Dropped() int64 { return s.dropped.Load() }

// Failed counts deliveries that still failed after retries.
func (s *Sink) Failed() int64 { return s.failed.Load() }

func (s *Sink) matches(eventType string) bool {
	for _, pat := range s.cfg.Events {
		if eventMatches(pat, eventType) {
			return true
		}
	}
	return false
}

// eventMatches supports exact types and "*.action" / "group.*" wildcards.
func eventMatches(pattern, eventType string) bool {
	switch {
	case pattern == "*" || pattern == eventType:
		return true
	case strings.HasPrefix(pattern, "*."):
		return strings.HasSuffix(eventType, pattern[1:])
	case strings.HasSuffix(pattern, ".*"):
		return strings.HasPrefix(eventType, pattern[:len(pattern)-1])
	}
	return false
}

func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a "sha256=<hex>" header value against payload.
func VerifySignature(payload []byte, secret, header string) bool {
	expected := SignPayload(payload, secret)
	return hmac.Equal([]byte(expected), []byte(strings.TrimPrefix(header, "sha256=")))
}
