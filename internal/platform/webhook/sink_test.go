package webhook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/triage/internal/domain/triage"
)

func TestEventMatches(t *testing.T) {
	tests := []struct {
		pattern, event string
		want           bool
	}{
		{"alert.created", "alert.created", true},
		{"alert.*", "alert.accepted", true},
		{"alert.*", "patient.popped", false},
		{"*.popped", "patient.popped", true},
		{"*", "queue.changed", true},
		{"patient.admitted", "patient.removed", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, eventMatches(tt.pattern, tt.event), "%s vs %s", tt.pattern, tt.event)
	}
}

func TestSignature_RoundTrip(t *testing.T) {
	body := []byte(`{"type":"alert.created"}`)
	sig := "sha256=" + SignPayload(body, "s3cret")
	assert.True(t, VerifySignature(body, "s3cret", sig))
	assert.False(t, VerifySignature(body, "other", sig))
	assert.False(t, VerifySignature([]byte(`{}`), "s3cret", sig))
}

func TestSink_DeliversSignedAlertEvents(t *testing.T) {
	var mu sync.Mutex
	var bodies [][]byte
	var sigs []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, body)
		sigs = append(sigs, r.Header.Get(SignatureHeader))
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := NewSink(Config{URLs: []string{srv.URL}, Secret: "s3cret"}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sink.Run(ctx)

	require.NoError(t, sink.Publish(ctx, triage.Event{Type: triage.EventQueueChanged}))
	require.NoError(t, sink.Publish(ctx, triage.Event{
		Type:      triage.EventAlertCreated,
		PatientID: "p1",
		Alert:     &triage.Alert{ID: "a1", PatientID: "p1", SuggestedTriageLevel: 1},
	}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(bodies) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, string(bodies[0]), `"type":"alert.created"`)
	assert.True(t, VerifySignature(bodies[0], "s3cret", sigs[0]))
	assert.Zero(t, sink.Failed())
}

func TestSink_FailedDeliveryIsCounted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	sink := NewSink(Config{URLs: []string{srv.URL}}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sink.Run(ctx)

	require.NoError(t, sink.Publish(ctx, triage.Event{Type: triage.EventAlertRejected}))
	require.Eventually(t, func() bool { return sink.Failed() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestSink_DropsWhenQueueFull(t *testing.T) {
	sink := NewSink(Config{URLs: []string{"http://127.0.0.1:0"}, Buffer: 1}, zerolog.Nop())

	require.NoError(t, sink.Publish(context.Background(), triage.Event{Type: triage.EventAlertCreated}))
	err := sink.Publish(context.Background(), triage.Event{Type: triage.EventAlertUpdated})
	assert.Error(t, err)
	assert.Equal(t, int64(1), sink.Dropped())
}
