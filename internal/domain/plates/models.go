package plates

import (
	"time"
)

type VehicleInfo struct {
	Type  string  `json:"type,omitempty"`
	Score float64 `json:"score,omitempty"`
}

type Box struct {
	XMin int `json:"xmin"`
	YMin int `json:"ymin"`
	XMax int `json:"xmax"`
	YMax int `json:"ymax"`
}

// Detection is one recognition-API result item for a single frame. It is
// ephemeral and lives only for the duration of one capture cycle.
type Detection struct {
	Plate      string      `json:"plate"`
	Confidence float64     `json:"confidence"`
	RegionCode string      `json:"region_code,omitempty"`
	Vehicle    VehicleInfo `json:"vehicle,omitempty"`
	Box        Box         `json:"box,omitempty"`
	Angle      *float64    `json:"angle,omitempty"`
}

// UsageStats carries the optional quota block returned by the recognition API.
type UsageStats struct {
	TotalCalls     int `json:"total_calls"`
	Year           int `json:"year"`
	Month          int `json:"month"`
	ResetsOnDay    int `json:"resets_on_day"`
	CallsThisMonth int `json:"calls_this_period"`
	CallsRemaining int `json:"calls_remaining"`
}

type RecognitionResult struct {
	Results []Detection `json:"results"`
	Usage   *UsageStats `json:"usage,omitempty"`
}

// Classification is the per-capture result category used to build the
// human-readable status message.
type Classification int

const (
	// OutcomeNone: the frame contained no readable plates.
	OutcomeNone Classification = iota
	// OutcomeUnknown: plates were detected but none matched the registry.
	OutcomeUnknown
	// OutcomeKnown: at least one detection matched a registered plate.
	OutcomeKnown
	// OutcomeError: the recognition call failed (API or connectivity).
	OutcomeError
)

func (c Classification) String() string {
	switch c {
	case OutcomeNone:
		return "none"
	case OutcomeUnknown:
		return "unknown"
	case OutcomeKnown:
		return "known"
	case OutcomeError:
		return "error"
	}
	return "invalid"
}

// ScanOutcome is what one capture iteration reports downstream.
type ScanOutcome struct {
	ScanID     string         `json:"scan_id"`
	CameraID   string         `json:"camera_id"`
	CameraName string         `json:"camera_name"`
	Class      Classification `json:"classification"`
	Message    string         `json:"message"`
	Detections []Detection    `json:"detections,omitempty"`
	KnownPlate string         `json:"known_plate,omitempty"`
	Owner      string         `json:"owner,omitempty"`
	At         time.Time      `json:"at"`
}

// CameraStatus is the point-in-time snapshot exposed for one camera.
type CameraStatus struct {
	CameraID        string      `json:"camera_id"`
	CameraName      string      `json:"camera_name"`
	InProgress      bool        `json:"in_progress"`
	CaptureIndex    int         `json:"capture_index"`
	PlateCount      int         `json:"plate_count"`
	LastDetections  []Detection `json:"last_detections,omitempty"`
	Statistics      *UsageStats `json:"api_statistics,omitempty"`
	LastDetectionAt *time.Time  `json:"last_detection_timestamp,omitempty"`
	SkippedTriggers uint64      `json:"skipped_triggers"`
	CompletedScans  uint64      `json:"completed_scans"`
}
