package images

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Policy controls what happens to captured frames after each attempt.
type Policy struct {
	Folder          string
	SaveTimestamped bool
	SaveLatest      bool
	MaxImages       int
}

// Store writes retained frames and prunes old ones. All failures are logged
// and reported as negative results; an image that failed to save must never
// abort the capture cycle that produced it.
type Store struct {
	log zerolog.Logger
}

func NewStore(log zerolog.Logger) *Store {
	return &Store{log: log.With().Str("component", "images").Logger()}
}

// Save writes the frame per the policy flags and returns the paths written.
// After a successful timestamped write it prunes the folder asynchronously.
func (s *Store) Save(cameraName string, frame []byte, policy Policy) []string {
	if policy.Folder == "" {
		return nil
	}
	if err := os.MkdirAll(policy.Folder, 0o755); err != nil {
		s.log.Error().Err(err).Str("folder", policy.Folder).Msg("failed to create image folder")
		return nil
	}

	safeName := sanitizeName(cameraName)
	var saved []string

	if policy.SaveTimestamped {
		stamp := time.Now().Format("2006-01-02_15-04-05.000")
		path := filepath.Join(policy.Folder, fmt.Sprintf("%s_%s.jpg", safeName, stamp))
		if err := os.WriteFile(path, frame, 0o644); err != nil {
			s.log.Error().Err(err).Str("path", path).Msg("failed to save timestamped image")
		} else {
			saved = append(saved, path)
		}
	}

	if policy.SaveLatest {
		path := filepath.Join(policy.Folder, safeName+"_latest.jpg")
		if err := os.WriteFile(path, frame, 0o644); err != nil {
			s.log.Error().Err(err).Str("path", path).Msg("failed to save latest image")
		} else {
			saved = append(saved, path)
		}
	}

	if len(saved) > 0 {
		s.log.Debug().Strs("paths", saved).Msg("saved capture images")
	}
	if policy.SaveTimestamped && policy.MaxImages > 0 {
		go s.CleanOldImages(policy.Folder, policy.MaxImages)
	}
	return saved
}

// CleanOldImages keeps only the MaxImages most recently modified files in the
// folder and deletes the rest. Running it on an already-compliant folder is a
// no-op. It returns false only when the folder itself cannot be listed.
func (s *Store) CleanOldImages(folder string, maxImages int) bool {
	if folder == "" || maxImages <= 0 {
		return false
	}

	entries, err := os.ReadDir(folder)
	if err != nil {
		s.log.Error().Err(err).Str("folder", folder).Msg("failed to list image folder")
		return false
	}

	type fileAge struct {
		path    string
		modTime time.Time
	}
	var files []fileAge
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, fileAge{
			path:    filepath.Join(folder, entry.Name()),
			modTime: info.ModTime(),
		})
	}

	if len(files) <= maxImages {
		return true
	}

	// Newest first; everything past maxImages goes.
	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.After(files[j].modTime)
	})

	removed := 0
	for _, f := range files[maxImages:] {
		if err := os.Remove(f.path); err != nil {
			s.log.Warn().Err(err).Str("path", f.path).Msg("failed to remove old image")
			continue
		}
		removed++
	}
	if removed > 0 {
		s.log.Info().Int("removed", removed).Str("folder", folder).Msg("pruned old images")
	}
	return true
}

func sanitizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.ReplaceAll(name, ".", "_")
	if name == "" {
		name = "camera"
	}
	return name
}
