package utils

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/setanarut/dereflect"
	"gonum.org/v1/gonum/mat"
)

const (
	GroupDebug  = "debug"
	GroupResult = "result"
)

// DebugStorage writes intermediate fields of one run as gray PNGs under
// <root>/<run id>/<group>/<label>.png. It implements dereflect.Observer and
// is safe for concurrent use.
type DebugStorage struct {
	dir string

	mu    sync.Mutex
	files []string
	err   error
}

// NewDebugStorage creates a fresh run directory below root.
func NewDebugStorage(root string) (*DebugStorage, error) {
	dir := filepath.Join(root, uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create debug directory: %w", err)
	}
	return &DebugStorage{dir: dir}, nil
}

// Dir is the run directory.
func (s *DebugStorage) Dir() string {
	return s.dir
}

func stageGroup(stage dereflect.Stage) string {
	switch stage {
	case dereflect.StageThresholdLaplacian, dereflect.StageRHS:
		return GroupDebug
	default:
		return GroupResult
	}
}

// Observe stores f. Write failures are kept and reported by Err.
func (s *DebugStorage) Observe(stage dereflect.Stage, channel int, f *mat.Dense) {
	if err := s.StoreImage(FieldToGray(f), stageGroup(stage), stage.Label(channel)); err != nil {
		s.mu.Lock()
		if s.err == nil {
			s.err = err
		}
		s.mu.Unlock()
	}
}

// StoreImage writes img as <group>/<name>.png inside the run directory.
func (s *DebugStorage) StoreImage(img image.Image, group, name string) error {
	dir := filepath.Join(s.dir, group)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, name+".png")
	if err := SaveImage(img, path); err != nil {
		return fmt.Errorf("store %s: %w", name, err)
	}
	log.Debug().Str("file", path).Msg("debug image stored")
	s.mu.Lock()
	s.files = append(s.files, path)
	s.mu.Unlock()
	return nil
}

// Files lists the paths written so far.
func (s *DebugStorage) Files() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.files...)
}

// Err returns the first write error seen by Observe.
func (s *DebugStorage) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
