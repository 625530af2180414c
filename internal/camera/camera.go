package camera

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Camera identifies one configured snapshot source.
type Camera struct {
	ID          string
	Name        string
	SnapshotURL string
	Username    string
	Password    string
}

// Source acquires one frame from a camera. Implementations must return the
// raw JPEG bytes or an error; an empty frame is an error.
type Source interface {
	Snapshot(ctx context.Context, cam Camera) ([]byte, error)
}

// HTTPSource fetches still frames over HTTP, the common snapshot interface
// exposed by IP cameras and home-automation camera proxies.
type HTTPSource struct {
	client *http.Client
	log    zerolog.Logger
}

func NewHTTPSource(timeout time.Duration, log zerolog.Logger) *HTTPSource {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPSource{
		client: &http.Client{Timeout: timeout},
		log:    log.With().Str("component", "camera").Logger(),
	}
}

func (s *HTTPSource) Snapshot(ctx context.Context, cam Camera) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cam.SnapshotURL, nil)
	if err != nil {
		return nil, fmt.Errorf("snapshot request for %s: %w", cam.ID, err)
	}
	if cam.Username != "" {
		req.SetBasicAuth(cam.Username, cam.Password)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("snapshot fetch for %s: %w", cam.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("snapshot fetch for %s: status %d", cam.ID, resp.StatusCode)
	}

	frame, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("snapshot read for %s: %w", cam.ID, err)
	}
	if len(frame) == 0 {
		return nil, fmt.Errorf("snapshot for %s: empty frame", cam.ID)
	}
	return frame, nil
}
