package notify

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"platewatch/internal/domain/plates"
)

// StatusNoData is the neutral per-camera state the status sink reverts to
// after the quiet period.
const StatusNoData = "no data"

// Broadcaster pushes a serialized status event to any live observers.
type Broadcaster interface {
	Broadcast(message []byte)
}

// Event is the JSON document emitted on every sink update.
type Event struct {
	Camera         string    `json:"camera"`
	Message        string    `json:"message"`
	Classification string    `json:"classification"`
	Pulse          bool      `json:"pulse"`
	Aggregate      string    `json:"aggregate"`
	At             time.Time `json:"at"`
}

// Fanout turns one capture outcome into updates for three independent
// observers: the per-camera status, the merged aggregate view and the
// transient known-plate pulse. Each camera only ever writes its own key.
// Revert timers are cancel-and-replace per key, so a late timer from a
// superseded update can never clobber a fresh state.
type Fanout struct {
	cameraClear time.Duration
	pulseClear  time.Duration
	broadcaster Broadcaster
	log         zerolog.Logger

	mu     sync.Mutex
	status map[string]string
	pulse  map[string]bool
	timers map[string]*time.Timer
	gen    map[string]uint64
}

func NewFanout(cameraClear, pulseClear time.Duration, broadcaster Broadcaster, log zerolog.Logger) *Fanout {
	if cameraClear <= 0 {
		cameraClear = 20 * time.Second
	}
	if pulseClear <= 0 {
		pulseClear = 10 * time.Second
	}
	return &Fanout{
		cameraClear: cameraClear,
		pulseClear:  pulseClear,
		broadcaster: broadcaster,
		log:         log.With().Str("component", "notify").Logger(),
		status:      make(map[string]string),
		pulse:       make(map[string]bool),
		timers:      make(map[string]*time.Timer),
		gen:         make(map[string]uint64),
	}
}

// Report publishes one capture outcome. It always updates the status and
// aggregate sinks, whatever the classification; the pulse sink only activates
// on a known-plate outcome.
func (f *Fanout) Report(outcome plates.ScanOutcome) {
	camera := outcome.CameraName

	f.mu.Lock()
	f.status[camera] = outcome.Message

	// Known and unknown detections are transient and revert to neutral;
	// "no plates" and error statuses persist until the next scan so an
	// operator can still read them.
	switch outcome.Class {
	case plates.OutcomeKnown, plates.OutcomeUnknown:
		f.scheduleLocked("status/"+camera, f.cameraClear, func() {
			f.status[camera] = StatusNoData
			f.emitLocked(camera, StatusNoData, plates.OutcomeNone)
		})
	default:
		f.cancelLocked("status/" + camera)
	}

	if outcome.Class == plates.OutcomeKnown {
		f.pulse[camera] = true
		f.scheduleLocked("pulse/"+camera, f.pulseClear, func() {
			f.pulse[camera] = false
			f.emitLocked(camera, f.status[camera], plates.OutcomeNone)
		})
	}

	f.emitLocked(camera, outcome.Message, outcome.Class)
	f.mu.Unlock()

	f.log.Debug().
		Str("camera", camera).
		Str("classification", outcome.Class.String()).
		Str("message", outcome.Message).
		Msg("fanout update")
}

// Aggregate merges the latest per-camera messages into one combined string,
// recomputed from the full map on every call.
func (f *Fanout) Aggregate() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.aggregateLocked()
}

// Status returns the current per-camera status message.
func (f *Fanout) Status(camera string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg, ok := f.status[camera]; ok {
		return msg
	}
	return StatusNoData
}

// PulseActive reports whether the known-plate pulse is currently set.
func (f *Fanout) PulseActive(camera string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pulse[camera]
}

// Snapshot returns the current status of every camera that has reported.
func (f *Fanout) Snapshot() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.status))
	for camera, msg := range f.status {
		out[camera] = msg
	}
	return out
}

// scheduleLocked replaces any pending revert for the key with a fresh timer.
// The generation check inside the callback guards against a timer that fired
// after Stop but before acquiring the lock.
func (f *Fanout) scheduleLocked(key string, after time.Duration, revert func()) {
	f.cancelLocked(key)
	f.gen[key]++
	gen := f.gen[key]
	f.timers[key] = time.AfterFunc(after, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.gen[key] != gen {
			return
		}
		delete(f.timers, key)
		revert()
	})
}

func (f *Fanout) cancelLocked(key string) {
	if t, ok := f.timers[key]; ok {
		t.Stop()
		delete(f.timers, key)
	}
	f.gen[key]++
}

func (f *Fanout) aggregateLocked() string {
	cameras := make([]string, 0, len(f.status))
	for camera := range f.status {
		cameras = append(cameras, camera)
	}
	sort.Strings(cameras)

	parts := make([]string, 0, len(cameras))
	for _, camera := range cameras {
		parts = append(parts, camera+": "+f.status[camera])
	}
	return strings.Join(parts, "; ")
}

func (f *Fanout) emitLocked(camera, message string, class plates.Classification) {
	if f.broadcaster == nil {
		return
	}
	event := Event{
		Camera:         camera,
		Message:        message,
		Classification: class.String(),
		Pulse:          f.pulse[camera],
		Aggregate:      f.aggregateLocked(),
		At:             time.Now().UTC(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	f.broadcaster.Broadcast(data)
}
