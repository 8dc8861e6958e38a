package lifecycle

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/your-org/dca-drawdown-sim/internal/simerr"
)

// Marker is the liveness record of a running instance.
type Marker struct {
	PID        int       `json:"pid"`
	InstanceID string    `json:"instance_id"`
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	Host       string    `json:"host"`
}

// MarkerFile guards the liveness marker on disk.
type MarkerFile struct {
	path  string
	alive func(pid int) bool
}

// NewMarkerFile returns a marker at path using the process table for liveness.
func NewMarkerFile(path string) *MarkerFile {
	return &MarkerFile{path: path, alive: processAlive}
}

// Path returns the marker location.
func (f *MarkerFile) Path() string {
	return f.path
}

// Read returns the recorded marker. A missing file yields os.ErrNotExist.
func (f *MarkerFile) Read() (*Marker, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, err
	}
	var m Marker
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("corrupt liveness marker %s: %w", f.path, err)
	}
	return &m, nil
}

// Live returns the marker when it names a process that is still alive.
// A missing, corrupt or stale marker yields nil.
func (f *MarkerFile) Live() *Marker {
	m, err := f.Read()
	if err != nil || m.PID <= 0 || !f.alive(m.PID) {
		return nil
	}
	return m
}

// Acquire records m unless a live instance already holds the marker. It
// returns the stale marker it replaced, if any.
func (f *MarkerFile) Acquire(m Marker) (*Marker, error) {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return nil, err
	}

	var stale *Marker
	for attempt := 0; attempt < 2; attempt++ {
		fh, err := os.OpenFile(f.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			werr := json.NewEncoder(fh).Encode(m)
			if cerr := fh.Close(); werr == nil {
				werr = cerr
			}
			if werr != nil {
				os.Remove(f.path)
				return nil, werr
			}
			return stale, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, err
		}

		if live := f.Live(); live != nil {
			return nil, fmt.Errorf("%w: pid %d (instance %s) since %s",
				simerr.ErrConcurrentInstance, live.PID, live.InstanceID, live.StartedAt.Format(time.RFC3339))
		}
		stale, _ = f.Read()
		if stale == nil {
			stale = &Marker{}
		}
		if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: marker %s recreated concurrently", simerr.ErrConcurrentInstance, f.path)
}

// Update rewrites the marker held by instanceID.
func (f *MarkerFile) Update(m Marker) error {
	cur, err := f.Read()
	if err != nil {
		return err
	}
	if cur.InstanceID != m.InstanceID {
		return fmt.Errorf("marker is held by instance %s", cur.InstanceID)
	}
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

// Release removes the marker if instanceID still holds it.
func (f *MarkerFile) Release(instanceID string) error {
	cur, err := f.Read()
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err == nil && cur.InstanceID != instanceID {
		return nil
	}
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Remove deletes the marker unconditionally.
func (f *MarkerFile) Remove() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
