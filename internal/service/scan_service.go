package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"platewatch/internal/domain/plates"
	"platewatch/internal/images"
	"platewatch/internal/repository"
	"platewatch/internal/session"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
)

// ScanResult reports which cameras accepted a trigger and which were busy.
type ScanResult struct {
	Started []string `json:"started"`
	Skipped []string `json:"skipped"`
}

// ScanService is the host-facing surface: scan triggering, registry CRUD and
// retained-image maintenance.
type ScanService struct {
	// lifecycle bounds every burst. Bursts must outlive the API request
	// that triggered them and stop only on daemon shutdown.
	lifecycle context.Context

	sessions map[string]*session.Session
	order    []string
	registry *repository.PlateRegistry
	store    *images.Store
	folder   string
	maxImg   int
	log      zerolog.Logger
}

func NewScanService(ctx context.Context, sessions []*session.Session, registry *repository.PlateRegistry, store *images.Store, folder string, maxImages int, log zerolog.Logger) *ScanService {
	byID := make(map[string]*session.Session, len(sessions))
	order := make([]string, 0, len(sessions))
	for _, sess := range sessions {
		byID[sess.CameraID()] = sess
		order = append(order, sess.CameraID())
	}
	return &ScanService{
		lifecycle: ctx,
		sessions:  byID,
		order:     order,
		registry:  registry,
		store:     store,
		folder:    folder,
		maxImg:    maxImages,
		log:       log.With().Str("component", "scan_service").Logger(),
	}
}

// TriggerScan starts a burst for one camera, or for every camera when the ID
// is empty. Busy cameras are skipped, never queued. Bursts run under the
// service lifecycle context, never under the caller's.
func (s *ScanService) TriggerScan(cameraID string) (*ScanResult, error) {
	targets := s.order
	if cameraID != "" {
		if _, ok := s.sessions[cameraID]; !ok {
			return nil, fmt.Errorf("%w: camera %q", ErrNotFound, cameraID)
		}
		targets = []string{cameraID}
	}

	result := &ScanResult{}
	for _, id := range targets {
		if s.sessions[id].TryScan(s.lifecycle) {
			result.Started = append(result.Started, id)
		} else {
			result.Skipped = append(result.Skipped, id)
		}
	}

	s.log.Info().
		Strs("started", result.Started).
		Strs("skipped", result.Skipped).
		Msg("scan triggered")
	return result, nil
}

func (s *ScanService) AddPlate(plate, owner string) bool {
	return s.registry.Add(plate, owner)
}

func (s *ScanService) RemovePlate(plate string) bool {
	return s.registry.Remove(plate)
}

func (s *ScanService) FormattedPlates() ([]string, int) {
	return s.registry.FormattedList(), s.registry.Count()
}

// CleanImages prunes the retained-image folder down to maxImages, falling
// back to the configured defaults when the arguments are zero-valued. Usable
// from a scheduled job or a manual operator call, independent of any session.
func (s *ScanService) CleanImages(folder string, maxImages int) bool {
	if folder == "" {
		folder = s.folder
	}
	if maxImages <= 0 {
		maxImages = s.maxImg
	}
	if folder == "" || maxImages <= 0 {
		s.log.Warn().Msg("image cleanup skipped: no folder or limit configured")
		return false
	}
	return s.store.CleanOldImages(folder, maxImages)
}

// CameraStatus returns one camera's snapshot.
func (s *ScanService) CameraStatus(cameraID string) (plates.CameraStatus, error) {
	sess, ok := s.sessions[cameraID]
	if !ok {
		return plates.CameraStatus{}, fmt.Errorf("%w: camera %q", ErrNotFound, cameraID)
	}
	return sess.Status(), nil
}

// CameraStatuses returns snapshots for all cameras in configuration order.
func (s *ScanService) CameraStatuses() []plates.CameraStatus {
	out := make([]plates.CameraStatus, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.sessions[id].Status())
	}
	return out
}
