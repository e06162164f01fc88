// Package lamport implements the durable, monotonic logical clock shared by
// every actor in the swarm. Its lifecycle (init on boot, flush on shutdown)
// is explicit rather than hidden behind package-level state.
package lamport

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// Clock is a durable Lamport logical clock. The zero value is not usable;
// construct with Open.
type Clock struct {
	mu      sync.Mutex
	path    string
	lock    *flock.Flock
	counter int64
	dirty   bool
}

type counterFile struct {
	Counter int64 `json:"counter"`
}

// Open loads (or creates) the durable counter at <stateDir>/lamport.json.
// On startup the counter is max(last_persisted, 0).
func Open(stateDir string) (*Clock, error) {
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, fmt.Errorf("lamport: create state dir: %w", err)
	}
	path := filepath.Join(stateDir, "lamport.json")
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return nil, fmt.Errorf("lamport: acquire file lock: %w", err)
	}

	c := &Clock{path: path, lock: lock}
	raw, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		c.counter = 0
	case err != nil:
		lock.Unlock()
		return nil, fmt.Errorf("lamport: read counter file: %w", err)
	default:
		var cf counterFile
		if err := json.Unmarshal(raw, &cf); err != nil {
			lock.Unlock()
			return nil, fmt.Errorf("lamport: decode counter file: %w", err)
		}
		if cf.Counter > 0 {
			c.counter = cf.Counter
		}
	}
	return c, nil
}

// Tick advances the clock by one and returns the new value. Tick may batch
// the durable write internally but callers that need a synchronously
// persisted value should call Flush before emitting anything externally
// visible.
func (c *Clock) Tick() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counter++
	c.dirty = true
	return c.counter, c.persistLocked()
}

// Observe merges in an externally seen timestamp m, advancing the clock to
// max(counter, m)+1. Observe persists synchronously so the advance is
// durable before it can be observed by anyone else.
func (c *Clock) Observe(m int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m > c.counter {
		c.counter = m
	}
	c.counter++
	c.dirty = true
	return c.counter, c.persistLocked()
}

// Value returns the current counter without advancing it.
func (c *Clock) Value() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counter
}

// Flush forces any pending write to disk. Safe to call repeatedly.
func (c *Clock) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty {
		return nil
	}
	return c.persistLocked()
}

// Close flushes and releases the process-local file lock.
func (c *Clock) Close() error {
	if err := c.Flush(); err != nil {
		return err
	}
	return c.lock.Unlock()
}

func (c *Clock) persistLocked() error {
	tmp := c.path + ".tmp"
	data, err := json.Marshal(counterFile{Counter: c.counter})
	if err != nil {
		return fmt.Errorf("lamport: marshal counter: %w", err)
	}
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("lamport: open temp counter file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("lamport: write temp counter file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("lamport: fsync temp counter file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("lamport: close temp counter file: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("lamport: rename counter file: %w", err)
	}
	c.dirty = false
	return nil
}
