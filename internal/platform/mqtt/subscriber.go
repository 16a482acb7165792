// Package mqtt ingests bedside monitor readings and records them as
// observations on queued patients.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/ehr/triage/internal/domain/triage"
)

const DefaultTopic = "triage/vitals/+"

type Config struct {
	Broker   string
	ClientID string
	Topic    string
	Username string
	Password string
	QoS      byte
}

// Recorder is the service call a reading turns into.
type Recorder interface {
	RecordObservation(ctx context.Context, id string, obs triage.Observation) (*triage.PatientRecord, error)
}

// Reading is the payload a monitor publishes. PatientID may be omitted when
// the topic's last segment names the patient.
type Reading struct {
	PatientID string        `json:"patient_id"`
	Vitals    triage.Vitals `json:"vitals"`
	Symptoms  string        `json:"symptoms"`
}

type Subscriber struct {
	cfg      Config
	client   paho.Client
	recorder Recorder
	logger   zerolog.Logger
	timeout  time.Duration
}

func NewSubscriber(cfg Config, recorder Recorder, logger zerolog.Logger) *Subscriber {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	return &Subscriber{
		cfg:      cfg,
		recorder: recorder,
		logger:   logger.With().Str("component", "mqtt").Logger(),
		timeout:  5 * time.Second,
	}
}

// Start connects and subscribes. The subscription is restored on every
// reconnect.
func (s *Subscriber) Start() error {
	opts := paho.NewClientOptions().
		AddBroker(s.cfg.Broker).
		SetClientID(s.cfg.ClientID).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetConnectTimeout(10 * time.Second).
		SetOnConnectHandler(func(c paho.Client) {
			token := c.Subscribe(s.cfg.Topic, s.cfg.QoS, func(_ paho.Client, msg paho.Message) {
				s.Handle(msg.Topic(), msg.Payload())
			})
			if token.Wait() && token.Error() != nil {
				s.logger.Error().Err(token.Error()).Str("topic", s.cfg.Topic).Msg("subscribe failed")
				return
			}
			s.logger.Info().Str("topic", s.cfg.Topic).Msg("subscribed")
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			s.logger.Warn().Err(err).Msg("connection lost")
		})
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
	}
	if s.cfg.Password != "" {
		opts.SetPassword(s.cfg.Password)
	}

	s.client = paho.NewClient(opts)
	if token := s.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect to MQTT broker: %w", token.Error())
	}
	return nil
}

// Handle processes one message. Bad payloads and unknown patients are
// logged and dropped.
func (s *Subscriber) Handle(topic string, payload []byte) {
	var r Reading
	if err := json.Unmarshal(payload, &r); err != nil {
		s.logger.Warn().Err(err).Str("topic", topic).Msg("malformed reading")
		return
	}
	if r.PatientID == "" {
		r.PatientID = patientFromTopic(topic)
	}
	if r.PatientID == "" {
		s.logger.Warn().Str("topic", topic).Msg("reading without patient id")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	_, err := s.recorder.RecordObservation(ctx, r.PatientID, triage.Observation{Vitals: r.Vitals, Symptoms: r.Symptoms})
	switch {
	case errors.Is(err, triage.ErrNotFound):
		s.logger.Debug().Str("patient_id", r.PatientID).Msg("reading for patient not in queue")
	case err != nil:
		s.logger.Warn().Err(err).Str("patient_id", r.PatientID).Msg("failed to record reading")
	default:
		s.logger.Debug().Str("patient_id", r.PatientID).Msg("reading recorded")
	}
}

func patientFromTopic(topic string) string {
	i := strings.LastIndex(topic, "/")
	if i < 0 || i == len(topic)-1 {
		return ""
	}
	return topic[i+1:]
}

func (s *Subscriber) Stop() {
	if s.client == nil {
		return
	}
	s.client.Unsubscribe(s.cfg.Topic).WaitTimeout(time.Second)
	s.client.Disconnect(250)
}
