// Package record remembers how the last run against each server ended, so a
// restart can say something useful before bootstrap settles. A record holds
// a status and a timestamp only: no credential and no profile data.
package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// ErrNoRecord is returned by Load when nothing is saved for a server.
var ErrNoRecord = errors.New("no session record")

// Record is the last known session outcome for one server.
type Record struct {
	Server    string    `json:"server"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

type recordMap struct {
	Servers map[string]*Record `json:"servers"` // key = server URL
}

// File persists records for several servers in one JSON file.
// Writes are serialized across processes with a lock file and land through
// an atomic rename.
type File struct {
	path string
}

// NewFile returns a File stored at path.
func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the backing file path.
func (f *File) Path() string {
	return f.path
}

// Load returns the record saved for server.
func (f *File) Load(server string) (*Record, error) {
	m, err := f.read()
	if err != nil {
		return nil, err
	}
	r, ok := m.Servers[server]
	if !ok {
		return nil, fmt.Errorf("%w for server: %s", ErrNoRecord, server)
	}
	return r, nil
}

// Save stores r, keeping entries for other servers.
func (f *File) Save(r *Record) error {
	if r.Server == "" {
		return errors.New("record server cannot be empty")
	}
	if r.Status == "" {
		return errors.New("record status cannot be empty")
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now()
	}
	return f.update(func(m *recordMap) {
		m.Servers[r.Server] = r
	})
}

// Clear drops the record for server. Clearing a missing entry is not an
// error.
func (f *File) Clear(server string) error {
	return f.update(func(m *recordMap) {
		delete(m.Servers, server)
	})
}

func (f *File) read() (*recordMap, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return &recordMap{Servers: map[string]*Record{}}, nil
	}
	if err != nil {
		return nil, err
	}

	var m recordMap
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse record file: %w", err)
	}
	if m.Servers == nil {
		m.Servers = map[string]*Record{}
	}
	return &m, nil
}

func (f *File) update(mutate func(*recordMap)) (err error) {
	lock, err := acquireFileLock(f.path)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() {
		if releaseErr := lock.release(); releaseErr != nil && err == nil {
			err = fmt.Errorf("failed to release lock: %w", releaseErr)
		}
	}()

	// A corrupt file is replaced rather than blocking every future write.
	m, readErr := f.read()
	if readErr != nil {
		m = &recordMap{Servers: map[string]*Record{}}
	}
	mutate(m)

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}

	tempFile := f.path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tempFile, f.path); err != nil {
		if removeErr := os.Remove(tempFile); removeErr != nil {
			return fmt.Errorf(
				"failed to rename temp file: %v; additionally failed to remove temp file: %w",
				err,
				removeErr,
			)
		}
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}
