package layout

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/xerrors"
)

// StampFormat is the layout of the directory names generated by the stamper.
const StampFormat = "20060102T150405.000000000"

// CollisionError is returned when a directory that should be fresh already
// holds content, which means two allocations used the same name.
type CollisionError struct {
	Path string
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("directory %s already exists with content", e.Path)
}

// Allocate creates the directory parent/name and returns its path. An empty
// directory with that name is accepted but one with content is an error.
func Allocate(parent, name string) (string, error) {
	path := filepath.Join(parent, name)

	err := os.Mkdir(path, 0755)
	if err == nil {
		return path, nil
	}

	if !os.IsExist(err) {
		return "", xerrors.Errorf("couldn't create %s: %w", path, err)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return "", xerrors.Errorf("couldn't read %s: %w", path, err)
	}

	if len(entries) > 0 {
		return "", &CollisionError{Path: path}
	}

	return path, nil
}

// Stamper generates timestamp names that are strictly increasing for the
// lifetime of the instance.
type Stamper struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

// NewStamper creates a stamper reading the given clock. A nil clock means the
// wall clock.
func NewStamper(now func() time.Time) *Stamper {
	if now == nil {
		now = time.Now
	}

	return &Stamper{now: now}
}

// Next returns the next timestamp. When the clock did not move since the
// previous call, the stamp is bumped by a nanosecond.
func (s *Stamper) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.now().UTC().Round(0)
	if !ts.After(s.last) {
		ts = s.last.Add(time.Nanosecond)
	}

	s.last = ts

	return ts
}

// Name returns the next timestamp formatted as a directory name.
func (s *Stamper) Name() string {
	return s.Next().Format(StampFormat)
}

// Layout allocates the output tree of a campaign:
//   root/{campaign}/{algorithm}/{iteration}
type Layout struct {
	root    string
	stamper *Stamper
}

// New creates a layout that writes under root.
func New(root string, stamper *Stamper) *Layout {
	if stamper == nil {
		stamper = NewStamper(nil)
	}

	return &Layout{root: root, stamper: stamper}
}

// Campaign creates the root directory of a new campaign and returns its path
// with the timestamp name used for it.
func (l *Layout) Campaign() (string, string, error) {
	err := os.MkdirAll(l.root, 0755)
	if err != nil {
		return "", "", xerrors.Errorf("couldn't create %s: %w", l.root, err)
	}

	name := l.stamper.Name()

	dir, err := Allocate(l.root, name)
	if err != nil {
		return "", "", err
	}

	return dir, name, nil
}

// Algorithm creates the directory of an algorithm inside a campaign.
func (l *Layout) Algorithm(campaignDir, name string) (string, error) {
	return Allocate(campaignDir, name)
}

// Iteration creates a fresh timestamped directory for one iteration.
func (l *Layout) Iteration(algorithmDir string) (string, error) {
	return Allocate(algorithmDir, l.stamper.Name())
}
