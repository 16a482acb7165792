// Package scoring talks to the external acuity scoring engine over HTTP.
package scoring

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/ehr/triage/internal/domain/triage"
)

const scorePath = "/v1/score"

type Config struct {
	BaseURL string
	Timeout time.Duration
	Retries int
	// APIKey, if set, is sent as a bearer token.
	APIKey string
}

// Client implements triage.ScoringEngine.
type Client struct {
	http   *resty.Client
	logger zerolog.Logger
}

func NewClient(cfg Config, logger zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(250*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError || r.StatusCode() == http.StatusTooManyRequests
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}
	return &Client{
		http:   client,
		logger: logger.With().Str("component", "scoring").Logger(),
	}
}

type vitalsBody struct {
	HeartRate        string `json:"heart_rate,omitempty"`
	Temperature      string `json:"temperature,omitempty"`
	RespiratoryRate  string `json:"respiratory_rate,omitempty"`
	BloodPressure    string `json:"blood_pressure,omitempty"`
	OxygenSaturation string `json:"oxygen_saturation,omitempty"`
}

type recallBody struct {
	TriageScore    int       `json:"triage_score"`
	Reasoning      string    `json:"reasoning,omitempty"`
	PrimaryConcern string    `json:"primary_concern,omitempty"`
	RedFlags       []string  `json:"red_flags,omitempty"`
	AssessedAt     time.Time `json:"assessed_at"`
}

type requestBody struct {
	PatientID     string       `json:"patient_id"`
	Vitals        vitalsBody   `json:"vitals"`
	Symptoms      string       `json:"symptoms"`
	History       string       `json:"history,omitempty"`
	RecallHistory []recallBody `json:"recall_history,omitempty"`
}

type responseBody struct {
	TriageScore          int      `json:"triage_score"`
	TriageLevel          string   `json:"triage_level"`
	Acuity               string   `json:"acuity"`
	Reasoning            string   `json:"reasoning"`
	RedFlags             []string `json:"red_flags"`
	RecommendedResources []string `json:"recommended_resources"`
	NursingNotes         []string `json:"nursing_notes"`
	SymptomProgression   string   `json:"symptom_progression"`
	PrimaryConcern       string   `json:"primary_concern"`
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (e errorBody) String() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}

func toRequest(req triage.ScoreRequest) requestBody {
	body := requestBody{
		PatientID: req.PatientID,
		Vitals: vitalsBody{
			HeartRate:        req.Vitals.HeartRate,
			Temperature:      req.Vitals.Temperature,
			RespiratoryRate:  req.Vitals.RespiratoryRate,
			BloodPressure:    req.Vitals.BloodPressure,
			OxygenSaturation: req.Vitals.OxygenSaturation,
		},
		Symptoms: req.Symptoms,
		History:  req.History,
	}
	for _, a := range req.RecallHistory {
		body.RecallHistory = append(body.RecallHistory, recallBody{
			TriageScore:    int(a.Level),
			Reasoning:      a.Reasoning,
			PrimaryConcern: a.PrimaryConcern,
			RedFlags:       a.RedFlags,
			AssessedAt:     a.AssessedAt,
		})
	}
	return body
}

// Score posts the patient's current picture and returns the engine's
// assessment. Every failure wraps triage.ErrUpstreamScoring.
func (c *Client) Score(ctx context.Context, req triage.ScoreRequest) (triage.Assessment, error) {
	var (
		out     responseBody
		failure errorBody
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(toRequest(req)).
		SetResult(&out).
		SetError(&failure).
		Post(scorePath)
	if err != nil {
		c.logger.Warn().Err(err).Str("patient_id", req.PatientID).Msg("scoring call failed")
		return triage.Assessment{}, fmt.Errorf("%w: %v", triage.ErrUpstreamScoring, err)
	}
	if resp.IsError() {
		c.logger.Warn().
			Int("status_code", resp.StatusCode()).
			Str("patient_id", req.PatientID).
			Str("detail", failure.String()).
			Msg("scoring engine returned error")
		return triage.Assessment{}, fmt.Errorf("%w: status %d: %s", triage.ErrUpstreamScoring, resp.StatusCode(), failure.String())
	}

	level := triage.Level(out.TriageScore)
	if err := triage.ValidateLevel(level); err != nil {
		return triage.Assessment{}, fmt.Errorf("%w: %v", triage.ErrUpstreamScoring, err)
	}

	c.logger.Debug().
		Str("patient_id", req.PatientID).
		Int("triage_score", out.TriageScore).
		Dur("latency", resp.Time()).
		Msg("patient scored")

	return triage.Assessment{
		Level:                level,
		Label:                out.TriageLevel,
		Acuity:               out.Acuity,
		Reasoning:            out.Reasoning,
		PrimaryConcern:       out.PrimaryConcern,
		SymptomProgression:   out.SymptomProgression,
		RedFlags:             out.RedFlags,
		RecommendedResources: out.RecommendedResources,
		NursingNotes:         out.NursingNotes,
	}, nil
}
