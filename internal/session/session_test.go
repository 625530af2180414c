package session

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"platewatch/internal/camera"
	"platewatch/internal/domain/plates"
	"platewatch/internal/notify"
	"platewatch/internal/recognizer"
	"platewatch/internal/repository"
)

type fakeSource struct {
	frame   []byte
	err     error
	release chan struct{} // when set, Snapshot blocks until closed
}

func (f *fakeSource) Snapshot(ctx context.Context, cam camera.Camera) ([]byte, error) {
	if f.release != nil {
		<-f.release
	}
	return f.frame, f.err
}

type fakeRecognizer struct {
	mu     sync.Mutex
	result *plates.RecognitionResult
	err    error
	calls  int
}

func (f *fakeRecognizer) Recognize(ctx context.Context, image []byte, regions []string) (*plates.RecognitionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.result, f.err
}

func (f *fakeRecognizer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingReporter struct {
	mu       sync.Mutex
	outcomes []plates.ScanOutcome
}

func (r *recordingReporter) Report(outcome plates.ScanOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *recordingReporter) all() []plates.ScanOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]plates.ScanOutcome(nil), r.outcomes...)
}

func newTestRegistry(t *testing.T, entries map[string]string) *repository.PlateRegistry {
	t.Helper()
	reg := repository.NewPlateRegistry(filepath.Join(t.TempDir(), "plates.yaml"), zerolog.Nop())
	reg.Load()
	for plate, owner := range entries {
		if !reg.Add(plate, owner) {
			t.Fatalf("failed to seed plate %s", plate)
		}
	}
	return reg
}

func waitIdle(t *testing.T, s *Session) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		st := s.Status()
		if !st.InProgress && st.CompletedScans > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("session did not finish in time")
}

func testCamera() camera.Camera {
	return camera.Camera{ID: "front", Name: "front"}
}

func TestSingleFlight(t *testing.T) {
	release := make(chan struct{})
	source := &fakeSource{frame: []byte("jpeg"), release: release}
	rec := &fakeRecognizer{result: &plates.RecognitionResult{}}
	rep := &recordingReporter{}
	reg := newTestRegistry(t, nil)

	s := New(testCamera(), source, rec, reg, rep, nil, Settings{Captures: 1}, zerolog.Nop())

	if !s.TryScan(context.Background()) {
		t.Fatal("first trigger should start a burst")
	}
	if s.TryScan(context.Background()) {
		t.Fatal("second trigger must be rejected while the first burst runs")
	}

	close(release)
	waitIdle(t, s)

	st := s.Status()
	if st.SkippedTriggers != 1 {
		t.Errorf("skipped triggers = %d, want 1", st.SkippedTriggers)
	}
	if st.CompletedScans != 1 {
		t.Errorf("completed scans = %d, want 1", st.CompletedScans)
	}
	if rec.callCount() != 1 {
		t.Errorf("recognizer calls = %d, want 1 (original burst only)", rec.callCount())
	}

	// The guard resets: a later trigger is accepted again.
	if !s.TryScan(context.Background()) {
		t.Fatal("trigger after completion should be accepted")
	}
	waitIdle(t, s)
}

func TestRecognitionFailureStillNotifies(t *testing.T) {
	source := &fakeSource{frame: []byte("jpeg")}
	rec := &fakeRecognizer{err: recognizer.ErrConnectivity}
	rep := &recordingReporter{}
	reg := newTestRegistry(t, nil)

	s := New(testCamera(), source, rec, reg, rep, nil, Settings{Captures: 1}, zerolog.Nop())
	if !s.TryScan(context.Background()) {
		t.Fatal("trigger rejected")
	}
	waitIdle(t, s)

	outcomes := rep.all()
	if len(outcomes) != 1 {
		t.Fatalf("outcomes = %d, want 1", len(outcomes))
	}
	if outcomes[0].Class != plates.OutcomeError {
		t.Errorf("classification = %v, want error", outcomes[0].Class)
	}
	if outcomes[0].Message != MsgProcessingError {
		t.Errorf("message = %q, want %q", outcomes[0].Message, MsgProcessingError)
	}
	if s.Status().InProgress {
		t.Error("in-progress flag stuck after failed recognition")
	}
}

func TestCaptureFailureSkipsRecognition(t *testing.T) {
	source := &fakeSource{err: errors.New("camera offline")}
	rec := &fakeRecognizer{result: &plates.RecognitionResult{}}
	rep := &recordingReporter{}
	reg := newTestRegistry(t, nil)

	s := New(testCamera(), source, rec, reg, rep, nil, Settings{Captures: 2, Interval: time.Millisecond}, zerolog.Nop())
	if !s.TryScan(context.Background()) {
		t.Fatal("trigger rejected")
	}
	waitIdle(t, s)

	if rec.callCount() != 0 {
		t.Errorf("recognizer called %d times despite capture failures", rec.callCount())
	}
	if len(rep.all()) != 0 {
		t.Errorf("fan-out ran for an attempt that produced no frame")
	}
	if s.Status().InProgress {
		t.Error("in-progress flag stuck")
	}
}

func TestClassification(t *testing.T) {
	reg := newTestRegistry(t, map[string]string{"AB123C": "Alice"})
	s := New(testCamera(), &fakeSource{}, &fakeRecognizer{}, reg, &recordingReporter{}, nil,
		Settings{Captures: 1, TolerateOneMistake: true}, zerolog.Nop())

	t.Run("none", func(t *testing.T) {
		out := s.classify("id", &plates.RecognitionResult{}, nil)
		if out.Class != plates.OutcomeNone || out.Message != MsgNoPlates {
			t.Fatalf("got %v %q", out.Class, out.Message)
		}
	})

	t.Run("unknown lists raw plates", func(t *testing.T) {
		out := s.classify("id", &plates.RecognitionResult{Results: []plates.Detection{
			{Plate: "xx111"}, {Plate: "yy222"},
		}}, nil)
		if out.Class != plates.OutcomeUnknown {
			t.Fatalf("class = %v", out.Class)
		}
		if out.Message != "unknown plate(s) detected: XX111, YY222" {
			t.Fatalf("message = %q", out.Message)
		}
	})

	t.Run("known uses corrected spelling", func(t *testing.T) {
		// OCR misread one character; the registry spelling must win.
		out := s.classify("id", &plates.RecognitionResult{Results: []plates.Detection{
			{Plate: "ab123x"},
		}}, nil)
		if out.Class != plates.OutcomeKnown {
			t.Fatalf("class = %v", out.Class)
		}
		if out.Message != "known plate detected: AB123C (Alice)" {
			t.Fatalf("message = %q", out.Message)
		}
		if out.KnownPlate != "AB123C" || out.Owner != "Alice" {
			t.Fatalf("known=%q owner=%q", out.KnownPlate, out.Owner)
		}
	})

	t.Run("known with extra unknown counted", func(t *testing.T) {
		out := s.classify("id", &plates.RecognitionResult{Results: []plates.Detection{
			{Plate: "AB123C"}, {Plate: "zz999"},
		}}, nil)
		if !strings.HasSuffix(out.Message, "(+1 unknown)") {
			t.Fatalf("message = %q", out.Message)
		}
	})

	t.Run("error", func(t *testing.T) {
		out := s.classify("id", nil, recognizer.ErrAPIFailure)
		if out.Class != plates.OutcomeError || out.Message != MsgProcessingError {
			t.Fatalf("got %v %q", out.Class, out.Message)
		}
	})
}

func TestEndToEndKnownPlate(t *testing.T) {
	reg := newTestRegistry(t, map[string]string{"WX1234E": "Alice"})
	source := &fakeSource{frame: []byte("jpeg")}
	rec := &fakeRecognizer{result: &plates.RecognitionResult{
		Results: []plates.Detection{{Plate: "wx1234e", Confidence: 0.9}},
	}}
	fanout := notify.NewFanout(200*time.Millisecond, 30*time.Millisecond, nil, zerolog.Nop())

	s := New(testCamera(), source, rec, reg, fanout, nil, Settings{Captures: 1}, zerolog.Nop())
	if !s.TryScan(context.Background()) {
		t.Fatal("trigger rejected")
	}
	waitIdle(t, s)

	want := "known plate detected: WX1234E (Alice)"
	if got := fanout.Status("front"); got != want {
		t.Fatalf("per-camera status = %q, want %q", got, want)
	}
	if got := fanout.Aggregate(); got != "front: "+want {
		t.Fatalf("aggregate = %q", got)
	}
	if !fanout.PulseActive("front") {
		t.Fatal("pulse should be active right after a known-plate detection")
	}

	// The pulse self-clears after its window.
	deadline := time.Now().Add(2 * time.Second)
	for fanout.PulseActive("front") {
		if time.Now().After(deadline) {
			t.Fatal("pulse never reverted")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStatusReportsNormalizedDetections(t *testing.T) {
	source := &fakeSource{frame: []byte("jpeg")}
	rec := &fakeRecognizer{result: &plates.RecognitionResult{
		Results: []plates.Detection{{Plate: " wx1234e ", Confidence: 0.9}},
	}}
	rep := &recordingReporter{}
	reg := newTestRegistry(t, map[string]string{"WX1234E": "Alice"})

	s := New(testCamera(), source, rec, reg, rep, nil, Settings{Captures: 1}, zerolog.Nop())
	if !s.TryScan(context.Background()) {
		t.Fatal("trigger rejected")
	}
	waitIdle(t, s)

	st := s.Status()
	if st.PlateCount != 1 {
		t.Fatalf("plate count = %d, want 1", st.PlateCount)
	}
	// The snapshot carries the same normalized plate the status message shows.
	if got := st.LastDetections[0].Plate; got != "WX1234E" {
		t.Errorf("snapshot plate = %q, want %q", got, "WX1234E")
	}
	if st.LastDetectionAt == nil {
		t.Error("last detection timestamp not set")
	}
}

func TestBurstRunsAllCaptures(t *testing.T) {
	source := &fakeSource{frame: []byte("jpeg")}
	rec := &fakeRecognizer{result: &plates.RecognitionResult{}}
	rep := &recordingReporter{}
	reg := newTestRegistry(t, nil)

	s := New(testCamera(), source, rec, reg, rep, nil,
		Settings{Captures: 3, Interval: time.Millisecond}, zerolog.Nop())
	if !s.TryScan(context.Background()) {
		t.Fatal("trigger rejected")
	}
	waitIdle(t, s)

	if rec.callCount() != 3 {
		t.Errorf("recognizer calls = %d, want 3", rec.callCount())
	}
	if len(rep.all()) != 3 {
		t.Errorf("fan-out updates = %d, want 3", len(rep.all()))
	}
}

func TestCancelledContextStopsBurst(t *testing.T) {
	source := &fakeSource{frame: []byte("jpeg")}
	rec := &fakeRecognizer{result: &plates.RecognitionResult{}}
	rep := &recordingReporter{}
	reg := newTestRegistry(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	s := New(testCamera(), source, rec, reg, rep, nil,
		Settings{Captures: 5, Interval: 500 * time.Millisecond}, zerolog.Nop())
	if !s.TryScan(ctx) {
		t.Fatal("trigger rejected")
	}
	cancel()
	waitIdle(t, s)

	if calls := rec.callCount(); calls >= 5 {
		t.Errorf("burst ran to completion despite cancellation (%d calls)", calls)
	}
	if s.Status().InProgress {
		t.Error("in-progress flag stuck after cancellation")
	}
}
