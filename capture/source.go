// Package capture owns the camera side of the overlay: frame sources,
// session lifecycle and frame encoding.
package capture

import (
	"context"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Source is a live frame feed (a camera device or anything pretending to be one).
type Source interface {
	// Name identifies the device in error messages and logs
	Name() string
	// Open acquires the device. Errors are classified by the session
	Open(ctx context.Context) error
	// Read returns the current frame
	Read(ctx context.Context) (image.Image, error)
	// Close releases the device and all its media resources
	Close() error
}

// DirSource replays image files from a directory as a looping camera feed.
// JPEG and PNG files are used in lexical order.
type DirSource struct {
	dir string

	mu     sync.Mutex
	files  []string
	cursor int
	opened bool
}

func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: dir}
}

func (s *DirSource) Name() string {
	return s.dir
}

func (s *DirSource) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opened {
		return ErrDeviceBusy
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}
	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".jpg", ".jpeg", ".png":
			files = append(files, filepath.Join(s.dir, entry.Name()))
		}
	}
	if len(files) == 0 {
		return errors.Wrapf(ErrDeviceNotFound, "no frames in %s", s.dir)
	}
	sort.Strings(files)
	s.files = files
	s.cursor = 0
	s.opened = true
	return nil
}

func (s *DirSource) Read(ctx context.Context) (image.Image, error) {
	s.mu.Lock()
	if !s.opened {
		s.mu.Unlock()
		return nil, errors.New("source is not opened")
	}
	path := s.files[s.cursor]
	s.cursor = (s.cursor + 1) % len(s.files)
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't open frame %s", path)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't decode frame %s", path)
	}
	return img, nil
}

func (s *DirSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = false
	s.files = nil
	return nil
}
