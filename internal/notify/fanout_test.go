package notify

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"platewatch/internal/domain/plates"
)

func outcome(camera string, class plates.Classification, message string) plates.ScanOutcome {
	return plates.ScanOutcome{
		CameraName: camera,
		Class:      class,
		Message:    message,
		At:         time.Now().UTC(),
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestStatusAutoRevert(t *testing.T) {
	f := NewFanout(40*time.Millisecond, 20*time.Millisecond, nil, zerolog.Nop())

	f.Report(outcome("front", plates.OutcomeKnown, "known plate detected: AB123C (Alice)"))
	if got := f.Status("front"); got != "known plate detected: AB123C (Alice)" {
		t.Fatalf("status = %q", got)
	}

	waitFor(t, time.Second, func() bool { return f.Status("front") == StatusNoData })
}

func TestErrorStatusDoesNotRevert(t *testing.T) {
	f := NewFanout(20*time.Millisecond, 20*time.Millisecond, nil, zerolog.Nop())

	f.Report(outcome("front", plates.OutcomeError, "processing error"))
	time.Sleep(80 * time.Millisecond)
	if got := f.Status("front"); got != "processing error" {
		t.Fatalf("error status reverted to %q; it must persist until the next scan", got)
	}
}

func TestFreshUpdateSupersedesPendingRevert(t *testing.T) {
	f := NewFanout(40*time.Millisecond, 20*time.Millisecond, nil, zerolog.Nop())

	f.Report(outcome("front", plates.OutcomeUnknown, "unknown plate(s) detected: XX111"))
	time.Sleep(25 * time.Millisecond)

	// Second update lands before the first revert would fire; its own clock
	// starts over and the stale timer must not clear it early.
	f.Report(outcome("front", plates.OutcomeUnknown, "unknown plate(s) detected: YY222"))
	time.Sleep(25 * time.Millisecond)
	if got := f.Status("front"); got != "unknown plate(s) detected: YY222" {
		t.Fatalf("stale revert clobbered fresh status: %q", got)
	}

	waitFor(t, time.Second, func() bool { return f.Status("front") == StatusNoData })
}

func TestPulse(t *testing.T) {
	f := NewFanout(200*time.Millisecond, 25*time.Millisecond, nil, zerolog.Nop())

	f.Report(outcome("front", plates.OutcomeKnown, "known plate detected: AB123C (Alice)"))
	if !f.PulseActive("front") {
		t.Fatal("pulse should activate on a known-plate outcome")
	}

	waitFor(t, time.Second, func() bool { return !f.PulseActive("front") })
}

func TestPulseNotSetForUnknown(t *testing.T) {
	f := NewFanout(time.Minute, time.Minute, nil, zerolog.Nop())

	f.Report(outcome("front", plates.OutcomeUnknown, "unknown plate(s) detected: XX111"))
	if f.PulseActive("front") {
		t.Fatal("pulse must not activate for an unknown plate")
	}
	f.Report(outcome("front", plates.OutcomeNone, "no plates visible"))
	if f.PulseActive("front") {
		t.Fatal("pulse must not activate when nothing was detected")
	}
}

func TestAggregateMerge(t *testing.T) {
	f := NewFanout(time.Minute, time.Minute, nil, zerolog.Nop())

	f.Report(outcome("gate", plates.OutcomeNone, "no plates visible"))
	f.Report(outcome("front", plates.OutcomeKnown, "known plate detected: WX1234E (Alice)"))

	want := "front: known plate detected: WX1234E (Alice); gate: no plates visible"
	if got := f.Aggregate(); got != want {
		t.Fatalf("aggregate = %q, want %q", got, want)
	}

	// Recomputed on every update, not just on change.
	f.Report(outcome("gate", plates.OutcomeError, "processing error"))
	want = "front: known plate detected: WX1234E (Alice); gate: processing error"
	if got := f.Aggregate(); got != want {
		t.Fatalf("aggregate = %q, want %q", got, want)
	}
}

type captureBroadcaster struct {
	messages [][]byte
}

func (c *captureBroadcaster) Broadcast(message []byte) {
	c.messages = append(c.messages, message)
}

func TestBroadcastOnEveryUpdate(t *testing.T) {
	b := &captureBroadcaster{}
	f := NewFanout(time.Minute, time.Minute, b, zerolog.Nop())

	f.Report(outcome("front", plates.OutcomeNone, "no plates visible"))
	f.Report(outcome("front", plates.OutcomeNone, "no plates visible"))

	if len(b.messages) != 2 {
		t.Fatalf("broadcasts = %d, want 2", len(b.messages))
	}
}
