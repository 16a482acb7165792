package triage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestAlertMonitor_RunOnce(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.admit(t, "worse", 3)
	env.admit(t, "same", 3)
	env.admit(t, "broken", 4)
	env.admit(t, "quiet", 2)

	for _, id := range []string{"worse", "same", "broken"} {
		if _, err := env.svc.RecordObservation(ctx, id, Observation{Symptoms: "update"}); err != nil {
			t.Fatalf("observation %s: %v", id, err)
		}
	}
	env.scorer.set("worse", 1)
	env.scorer.failFor("broken", errors.New("engine down"))
	callsBefore := env.scorer.calls

	var seen PassResult
	m := NewAlertMonitor(env.svc, zerolog.Nop())
	m.OnPass = func(r PassResult) { seen = r }
	res := m.RunOnce(ctx)

	if res.Assessed != 3 || res.Raised != 1 || res.Failed != 1 {
		t.Fatalf("unexpected pass result %+v", res)
	}
	if seen.Assessed != 3 {
		t.Errorf("expected OnPass callback, got %+v", seen)
	}
	if env.scorer.calls-callsBefore != 3 {
		t.Errorf("expected only marked patients scored, got %d calls", env.scorer.calls-callsBefore)
	}
	if _, ok := env.svc.alerts.Pending("worse"); !ok {
		t.Error("expected pending alert for worse")
	}

	// the failed patient is retried on the next pass, the others are not
	env.scorer.mu.Lock()
	delete(env.scorer.fail, "broken")
	env.scorer.mu.Unlock()
	res = m.RunOnce(ctx)
	if res.Assessed != 1 || res.Failed != 0 {
		t.Errorf("expected single retry, got %+v", res)
	}
	if m.Passes() != 2 {
		t.Errorf("expected 2 passes, got %d", m.Passes())
	}
}

func TestAlertMonitor_SkipsDepartedPatients(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.admit(t, "P", 3)
	env.svc.RecordObservation(ctx, "P", Observation{Symptoms: "x"})
	env.svc.Pop(ctx, "doc")

	res := NewAlertMonitor(env.svc, zerolog.Nop()).RunOnce(ctx)
	if res.Assessed != 0 {
		t.Errorf("departed patients are dropped from the dirty set, got %+v", res)
	}
}

func TestAlertMonitor_StartStopsOnCancel(t *testing.T) {
	env := newTestEnv()
	m := NewAlertMonitor(env.svc, zerolog.Nop())
	m.Interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Start(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for m.Passes() == 0 {
		select {
		case <-deadline:
			t.Fatal("monitor never ran a pass")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop after cancel")
	}
}
