package repository

import (
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/goccy/go-yaml"
	"github.com/rs/zerolog"

	"platewatch/internal/utils"
)

// UnknownOwner is returned by OwnerOf when no registered plate matches.
const UnknownOwner = "unknown"

type platesFile struct {
	Plates map[string]string `yaml:"plates"`
}

// PlateRegistry owns the known plate -> owner map. The whole map is loaded
// once at startup and written back synchronously after every mutation; the
// file stays a small human-editable YAML document. Reads used during
// recognition only touch the in-memory copy.
type PlateRegistry struct {
	path string
	log  zerolog.Logger

	mu     sync.RWMutex
	plates map[string]string
}

func NewPlateRegistry(path string, log zerolog.Logger) *PlateRegistry {
	return &PlateRegistry{
		path:   path,
		log:    log.With().Str("component", "plate_registry").Logger(),
		plates: make(map[string]string),
	}
}

// Load reads the registry file. A missing, empty or corrupt file initializes
// an empty registry and writes it back; Load never fails to the caller.
func (r *PlateRegistry) Load() {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.path)
	if err != nil {
		if !os.IsNotExist(err) {
			r.log.Error().Err(err).Str("path", r.path).Msg("failed to read plates file, starting empty")
		}
		r.plates = make(map[string]string)
		r.saveLocked()
		return
	}

	var parsed platesFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		r.log.Error().Err(err).Str("path", r.path).Msg("failed to parse plates file, starting empty")
		r.plates = make(map[string]string)
		r.saveLocked()
		return
	}

	if parsed.Plates == nil {
		parsed.Plates = make(map[string]string)
	}
	r.plates = parsed.Plates
	r.log.Info().Int("count", len(r.plates)).Str("path", r.path).Msg("loaded known plates")
}

// Add validates, normalizes and stores a plate. It returns false when the
// plate fails the validity pattern; re-adding an identical pair is a no-op
// success.
func (r *PlateRegistry) Add(plate, owner string) bool {
	if !utils.IsValidPlate(plate) {
		r.log.Warn().Str("plate", plate).Msg("rejected invalid plate")
		return false
	}
	normalized := utils.NormalizePlate(plate)

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.plates[normalized]; ok && existing == owner {
		return true
	}
	r.plates[normalized] = owner
	r.saveLocked()
	r.log.Info().Str("plate", normalized).Str("owner", owner).Msg("added plate")
	return true
}

// Remove deletes a plate if present. Absence is a negative result, not an
// error.
func (r *PlateRegistry) Remove(plate string) bool {
	normalized := utils.NormalizePlate(plate)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.plates[normalized]; !ok {
		return false
	}
	delete(r.plates, normalized)
	r.saveLocked()
	r.log.Info().Str("plate", normalized).Msg("removed plate")
	return true
}

// IsKnown reports whether the plate matches the registry, exactly first and
// then, when tolerance is enabled, within edit distance 1 of any entry.
func (r *PlateRegistry) IsKnown(plate string, tolerateOneMistake bool) bool {
	normalized := utils.NormalizePlate(plate)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.plates[normalized]; ok {
		return true
	}
	if !tolerateOneMistake {
		return false
	}
	for known := range r.plates {
		if utils.Distance(normalized, known) <= 1 {
			return true
		}
	}
	return false
}

// Corrected returns the canonical registry spelling for a detected plate: the
// exact match when present, else the first known plate within distance 1 when
// tolerance is enabled, else the input unchanged. Downstream displays use the
// registry spelling rather than the OCR's possibly misread string.
func (r *PlateRegistry) Corrected(plate string, tolerateOneMistake bool) string {
	normalized := utils.NormalizePlate(plate)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.plates[normalized]; ok {
		return normalized
	}
	if tolerateOneMistake {
		for known := range r.plates {
			if utils.Distance(normalized, known) <= 1 {
				return known
			}
		}
	}
	return normalized
}

// OwnerOf looks up the owner via the same exact-then-fuzzy fallback and
// returns UnknownOwner when nothing matches.
func (r *PlateRegistry) OwnerOf(plate string, tolerateOneMistake bool) string {
	normalized := utils.NormalizePlate(plate)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if owner, ok := r.plates[normalized]; ok {
		return owner
	}
	if tolerateOneMistake {
		for known, owner := range r.plates {
			if utils.Distance(normalized, known) <= 1 {
				return owner
			}
		}
	}
	return UnknownOwner
}

// FormattedList returns "PLATE - OWNER" lines (bare "PLATE" when the owner is
// empty) sorted by plate for stable display.
func (r *PlateRegistry) FormattedList() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.plates))
	for plate := range r.plates {
		keys = append(keys, plate)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, plate := range keys {
		if owner := r.plates[plate]; owner != "" {
			out = append(out, plate+" - "+owner)
		} else {
			out = append(out, plate)
		}
	}
	return out
}

func (r *PlateRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plates)
}

// All returns a copy of the plate -> owner map.
func (r *PlateRegistry) All() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]string, len(r.plates))
	for plate, owner := range r.plates {
		out[plate] = owner
	}
	return out
}

// saveLocked persists the registry; callers hold the write lock. Persistence
// failures are logged, never raised, so a full disk cannot take down the
// recognition pipeline.
func (r *PlateRegistry) saveLocked() {
	data, err := yaml.Marshal(platesFile{Plates: r.plates})
	if err != nil {
		r.log.Error().Err(err).Msg("failed to marshal plates")
		return
	}
	if dir := filepath.Dir(r.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			r.log.Error().Err(err).Str("dir", dir).Msg("failed to create plates directory")
			return
		}
	}
	if err := os.WriteFile(r.path, data, 0o644); err != nil {
		r.log.Error().Err(err).Str("path", r.path).Msg("failed to write plates file")
	}
}
