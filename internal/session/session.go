package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"platewatch/internal/camera"
	"platewatch/internal/domain/plates"
	"platewatch/internal/images"
	"platewatch/internal/utils"
)

// Status messages; the error status must stay distinguishable from "no
// plates visible" so an operator can tell a broken API from an empty frame.
const (
	MsgNoPlates        = "no plates visible"
	MsgProcessingError = "processing error"
)

// Recognizer is the outbound recognition call the session depends on.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte, regions []string) (*plates.RecognitionResult, error)
}

// Registry is the subset of the plate registry the session consults.
type Registry interface {
	IsKnown(plate string, tolerateOneMistake bool) bool
	Corrected(plate string, tolerateOneMistake bool) string
	OwnerOf(plate string, tolerateOneMistake bool) string
}

// Reporter receives every capture outcome, success or failure.
type Reporter interface {
	Report(outcome plates.ScanOutcome)
}

// ImageStore persists captured frames per the retention policy.
type ImageStore interface {
	Save(cameraName string, frame []byte, policy images.Policy) []string
}

// Settings fixes one session's burst and matching behavior.
type Settings struct {
	Captures           int
	Interval           time.Duration
	Regions            []string
	TolerateOneMistake bool
	Retention          images.Policy
}

// Session orchestrates scan cycles for a single camera. One instance lives
// for the component's lifetime; at most one burst runs at a time.
type Session struct {
	cam        camera.Camera
	source     camera.Source
	recognizer Recognizer
	registry   Registry
	reporter   Reporter
	store      ImageStore
	settings   Settings
	log        zerolog.Logger

	inProgress atomic.Bool
	skipped    atomic.Uint64
	completed  atomic.Uint64

	mu              sync.Mutex
	captureIndex    int
	lastDetections  []plates.Detection
	statistics      *plates.UsageStats
	lastDetectionAt *time.Time
}

func New(cam camera.Camera, source camera.Source, rec Recognizer, reg Registry, rep Reporter, store ImageStore, settings Settings, log zerolog.Logger) *Session {
	if settings.Captures < 1 {
		settings.Captures = 1
	}
	if settings.Interval <= 0 {
		settings.Interval = 1200 * time.Millisecond
	}
	return &Session{
		cam:        cam,
		source:     source,
		recognizer: rec,
		registry:   reg,
		reporter:   rep,
		store:      store,
		settings:   settings,
		log:        log.With().Str("component", "session").Str("camera", cam.ID).Logger(),
	}
}

func (s *Session) CameraID() string   { return s.cam.ID }
func (s *Session) CameraName() string { return s.cam.Name }

// TryScan starts one burst unless a scan is already in progress for this
// camera. The compare-and-set is the single-flight guard: there is no gap
// between checking and claiming the flag. Rejected requests are not queued.
func (s *Session) TryScan(ctx context.Context) bool {
	if !s.inProgress.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		s.log.Warn().Msg("already processing, skipping scan request")
		return false
	}
	go s.run(ctx)
	return true
}

// run executes one burst. The flag clears via defer no matter what happens
// inside the loop; a stuck flag would permanently wedge this camera.
func (s *Session) run(ctx context.Context) {
	scanID := uuid.NewString()
	log := s.log.With().Str("scan_id", scanID).Logger()
	defer func() {
		s.inProgress.Store(false)
		s.completed.Add(1)
		log.Debug().Msg("scan finished")
	}()

	log.Debug().Int("captures", s.settings.Captures).Msg("starting scan")

	for i := 1; i <= s.settings.Captures; i++ {
		if i > 1 {
			select {
			case <-ctx.Done():
				log.Info().Msg("scan cancelled")
				return
			case <-time.After(s.settings.Interval):
			}
		}

		s.mu.Lock()
		s.captureIndex = i
		s.mu.Unlock()

		s.runCapture(ctx, scanID, i, log)
	}
}

// runCapture performs one capture+recognize attempt. A panic anywhere inside
// is confined to this iteration so the burst continues.
func (s *Session) runCapture(ctx context.Context, scanID string, index int, log zerolog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Int("capture", index).Msg("capture iteration panicked")
		}
	}()

	log.Debug().Int("capture", index).Int("of", s.settings.Captures).Msg("acquiring frame")

	frame, err := s.source.Snapshot(ctx, s.cam)
	if err != nil {
		log.Error().Err(err).Int("capture", index).Msg("failed to capture image")
		return
	}

	result, recErr := s.recognizer.Recognize(ctx, frame, s.settings.Regions)

	// Retention and fan-out always run, even on a failed recognition call;
	// a dark API must not leave stale known-plate indicators lit.
	if s.store != nil {
		s.store.Save(s.cam.Name, frame, s.settings.Retention)
	}

	outcome := s.classify(scanID, result, recErr)
	s.recordOutcome(outcome, result)
	s.reporter.Report(outcome)
}

// classify maps one recognition result (or failure) to the four-way outcome
// used for the human-readable status.
func (s *Session) classify(scanID string, result *plates.RecognitionResult, recErr error) plates.ScanOutcome {
	outcome := plates.ScanOutcome{
		ScanID:     scanID,
		CameraID:   s.cam.ID,
		CameraName: s.cam.Name,
		At:         time.Now().UTC(),
	}

	if recErr != nil {
		outcome.Class = plates.OutcomeError
		outcome.Message = MsgProcessingError
		return outcome
	}

	detected := make([]string, 0, len(result.Results))
	for _, det := range result.Results {
		if plate := utils.NormalizePlate(det.Plate); plate != "" {
			detected = append(detected, plate)
			det.Plate = plate
			outcome.Detections = append(outcome.Detections, det)
		}
	}

	if len(detected) == 0 {
		outcome.Class = plates.OutcomeNone
		outcome.Message = MsgNoPlates
		return outcome
	}

	var known []string
	for _, plate := range detected {
		if s.registry.IsKnown(plate, s.settings.TolerateOneMistake) {
			known = append(known, plate)
		}
	}

	if len(known) == 0 {
		outcome.Class = plates.OutcomeUnknown
		outcome.Message = "unknown plate(s) detected: " + strings.Join(detected, ", ")
		return outcome
	}

	corrected := s.registry.Corrected(known[0], s.settings.TolerateOneMistake)
	owner := s.registry.OwnerOf(corrected, s.settings.TolerateOneMistake)

	outcome.Class = plates.OutcomeKnown
	outcome.KnownPlate = corrected
	outcome.Owner = owner
	outcome.Message = fmt.Sprintf("known plate detected: %s (%s)", corrected, owner)
	if extra := len(known) - 1; extra > 0 {
		outcome.Message += fmt.Sprintf(" (+%d more known)", extra)
	} else if unknown := len(detected) - len(known); unknown > 0 {
		outcome.Message += fmt.Sprintf(" (+%d unknown)", unknown)
	}
	return outcome
}

func (s *Session) recordOutcome(outcome plates.ScanOutcome, result *plates.RecognitionResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if outcome.Class == plates.OutcomeError || result == nil {
		s.lastDetections = nil
		s.statistics = nil
		return
	}
	// The snapshot exposes the normalized detections, the same strings the
	// classified message was built from, not the raw wire casing.
	s.lastDetections = outcome.Detections
	s.statistics = result.Usage
	if len(outcome.Detections) > 0 {
		now := time.Now().UTC()
		s.lastDetectionAt = &now
	}
}

// Status returns a point-in-time snapshot for external queries.
func (s *Session) Status() plates.CameraStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	return plates.CameraStatus{
		CameraID:        s.cam.ID,
		CameraName:      s.cam.Name,
		InProgress:      s.inProgress.Load(),
		CaptureIndex:    s.captureIndex,
		PlateCount:      len(s.lastDetections),
		LastDetections:  s.lastDetections,
		Statistics:      s.statistics,
		LastDetectionAt: s.lastDetectionAt,
		SkippedTriggers: s.skipped.Load(),
		CompletedScans:  s.completed.Load(),
	}
}
