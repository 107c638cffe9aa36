// Package lockdown implements the persistent failed-login throttle: a
// subject (an IP address or an access token, depending on configuration)
// that accumulates enough failed auth attempts within a cooldown window
// is refused further attempts without even validating the token, until
// the window expires.
package lockdown

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/natefinch/atomic"

	"github.com/snowflakedb/snowflake/internal/config"
)

// entry is one subject's throttle state, as stored in the JSON sidecar.
type entry struct {
	// TimeMillis is the unix-millisecond expiry of the lockdown window.
	TimeMillis int64 `json:"time"`
	Attempts   int   `json:"attempts"`
}

// Tracker guards the lockdown table and its sidecar file with its own
// mutex; disk rewrites happen under that lock.
type Tracker struct {
	mu sync.Mutex

	path        string
	mode        config.Lockdown
	maxAttempts int
	cooldown    time.Duration

	subjects map[string]entry

	now func() time.Time
}

// New constructs a Tracker. path is the sidecar file's location,
// conventionally ".lockdown" in the process working directory.
func New(path string, mode config.Lockdown, maxAttempts int, cooldown time.Duration) *Tracker {
	return &Tracker{
		path:        path,
		mode:        mode,
		maxAttempts: maxAttempts,
		cooldown:    cooldown,
		subjects:    make(map[string]entry),
		now:         time.Now,
	}
}

// Load reads any existing sidecar file into memory. It is not an error
// for the file to be absent.
func (t *Tracker) Load() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	data, err := readFileIfExists(t.path)
	if err != nil {
		return fmt.Errorf("lockdown: read %q: %w", t.path, err)
	}

	if data == nil {
		return nil
	}

	var subjects map[string]entry

	err = json.Unmarshal(data, &subjects)
	if err != nil {
		return fmt.Errorf("lockdown: parse %q: %w", t.path, err)
	}

	t.subjects = subjects

	return nil
}

// IsLockedDown reports whether subject is currently throttled: at least
// max_attempts failures and the expiry not yet passed. Always false when
// max_attempts <= 0 or mode is neither ip nor token.
//
// Expired entries noticed here are pruned and the sidecar rewritten (or
// removed once nothing is locked), so a subject that simply waits out
// its cooldown doesn't leave a stale file behind. The cleanup is best
// effort; a persistence failure never affects the answer.
func (t *Tracker) IsLockedDown(subject string) bool {
	if t.maxAttempts <= 0 || (t.mode != config.LockdownIP && t.mode != config.LockdownToken) {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	pruned := t.pruneLocked()

	e, ok := t.subjects[subject]
	locked := ok && e.Attempts >= t.maxAttempts && t.now().UnixMilli() <= e.TimeMillis

	var (
		data  []byte
		empty bool
		err   error
	)

	if pruned {
		data, empty, err = t.marshalLocked()
	}

	if pruned && err == nil {
		_ = t.rewrite(data, empty)
	}

	return locked
}

// RecordFailure increments subject's attempt counter and extends its
// expiry to now + cooldown, persisting the sidecar file atomically.
// Entries whose window has already expired are pruned on the way.
// A no-op when lockdown is disabled (mode none).
func (t *Tracker) RecordFailure(subject string) error {
	if t.mode != config.LockdownIP && t.mode != config.LockdownToken {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.pruneLocked()

	e := t.subjects[subject]
	e.Attempts++
	e.TimeMillis = t.now().Add(t.cooldown).UnixMilli()
	t.subjects[subject] = e

	data, empty, err := t.marshalLocked()
	if err != nil {
		return err
	}

	return t.rewrite(data, empty)
}

// Reset clears subject's throttle state entirely (used after a
// successful auth).
func (t *Tracker) Reset(subject string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.subjects, subject)
	t.pruneLocked()

	data, empty, err := t.marshalLocked()
	if err != nil {
		return err
	}

	return t.rewrite(data, empty)
}

// pruneLocked drops every entry whose window has expired, reporting
// whether anything was removed. Callers must hold t.mu.
func (t *Tracker) pruneLocked() bool {
	now := t.now().UnixMilli()
	pruned := false

	for subject, e := range t.subjects {
		if now > e.TimeMillis {
			delete(t.subjects, subject)

			pruned = true
		}
	}

	return pruned
}

// marshalLocked marshals the current table, reporting empty when no
// subject in it has reached max_attempts. Callers must hold t.mu.
func (t *Tracker) marshalLocked() (data []byte, empty bool, err error) {
	data, err = json.Marshal(t.subjects)
	if err != nil {
		return nil, false, fmt.Errorf("lockdown: marshal: %w", err)
	}

	empty = true

	for _, e := range t.subjects {
		if t.maxAttempts > 0 && e.Attempts >= t.maxAttempts {
			empty = false

			break
		}
	}

	return data, empty, nil
}

// rewrite atomically writes data to the sidecar, or removes the sidecar
// entirely when no subject remains locked.
func (t *Tracker) rewrite(data []byte, empty bool) error {
	if empty {
		return removeIfExists(t.path)
	}

	return atomic.WriteFile(t.path, bytes.NewReader(data))
}

// readFileIfExists returns (nil, nil) if path does not exist.
func readFileIfExists(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, err
	}

	return data, nil
}

// removeIfExists deletes path, treating a missing file as success.
func removeIfExists(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	return nil
}
