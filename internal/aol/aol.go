// Package aol implements the append-only log: a crash-tolerant,
// eventually-durable record of every set/remove that the core engine
// accepts, replayed on startup by internal/recovery.
//
// A single worker goroutine owns the current log file's descriptor
// exclusively; every other goroutine communicates with it only through
// EnqueueSet/EnqueueRemove. Ops queued within one flush interval are
// coalesced per key — only the latest op for a given key survives,
// whether it was a set or a remove.
package aol

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/snowflakedb/snowflake/internal/codec"
	"github.com/snowflakedb/snowflake/pkg/fs"
)

// Value is an alias for codec.Value.
type Value = codec.Value

// opKind tags a coalesced queue entry.
type opKind uint8

const (
	opSet opKind = iota
	opRemove
)

type queuedOp struct {
	kind  opKind
	value Value
}

// Options configures an AOL instance.
type Options struct {
	// Dir is the directory new log files are created in.
	Dir string

	// FlushInterval is how often pending ops are written to disk. Zero
	// defaults to 5 seconds.
	FlushInterval time.Duration

	// MaxFileBytes rotates to a new file once the current one would grow
	// past this size. Zero disables rotation.
	MaxFileBytes int64

	// OnError is called (if non-nil) whenever a background flush fails.
	// The log keeps running; the failed ops remain queued and are
	// retried on the next flush.
	OnError func(error)
}

// AOL is the append-only log writer.
type AOL struct {
	fsys fs.FS
	opts Options

	mu      sync.Mutex
	pending map[string]queuedOp

	flushNow chan chan struct{}
	closeCh  chan chan struct{}

	curFile fs.File
	curPath string
	curSize int64
}

// New constructs an AOL and starts its background flusher goroutine.
// Callers must call Close to stop it and flush any remaining ops.
func New(fsys fs.FS, opts Options) *AOL {
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 5 * time.Second
	}

	a := &AOL{
		fsys:     fsys,
		opts:     opts,
		pending:  make(map[string]queuedOp),
		flushNow: make(chan chan struct{}),
		closeCh:  make(chan chan struct{}),
	}

	go a.run()

	return a
}

// EnqueueSet queues key=value to be written on the next flush, coalescing
// with any earlier unflushed op for the same key. It satisfies
// store.AOLEnqueuer.
func (a *AOL) EnqueueSet(key string, value Value) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.pending[key] = queuedOp{kind: opSet, value: value}

	return nil
}

// EnqueueRemove queues a removal of key, coalescing with any earlier
// unflushed op for the same key. It satisfies store.AOLEnqueuer.
func (a *AOL) EnqueueRemove(key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.pending[key] = queuedOp{kind: opRemove}

	return nil
}

// Flush blocks until all currently queued ops have been written to disk.
func (a *AOL) Flush() error {
	done := make(chan struct{})
	a.flushNow <- done
	<-done

	return nil
}

// Close stops the worker after flushing any remaining ops.
func (a *AOL) Close() error {
	done := make(chan struct{})
	a.closeCh <- done
	<-done

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.curFile != nil {
		return a.curFile.Close()
	}

	return nil
}

func (a *AOL) run() {
	ticker := time.NewTicker(a.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.flush()
		case done := <-a.flushNow:
			a.flush()
			close(done)
		case done := <-a.closeCh:
			a.flush()
			close(done)

			return
		}
	}
}

func (a *AOL) flush() {
	a.mu.Lock()

	if len(a.pending) == 0 {
		a.mu.Unlock()

		return
	}

	batch := a.pending
	a.pending = make(map[string]queuedOp)

	a.mu.Unlock()

	data := buildFlushPayload(batch)

	err := a.writeBytes(data)
	if err != nil {
		// Put the batch back so the next tick retries it. Ops enqueued
		// since the batch was taken are newer and win.
		a.mu.Lock()

		for key, op := range batch {
			if _, exists := a.pending[key]; !exists {
				a.pending[key] = op
			}
		}

		a.mu.Unlock()

		if a.opts.OnError != nil {
			a.opts.OnError(fmt.Errorf("aol: flush: %w", err))
		}
	}
}

// buildFlushPayload groups an unordered batch of coalesced ops into
// lines: keys sharing a value are combined onto one "set" line per
// distinct value, followed by one "remove" line covering every removed
// key.
func buildFlushPayload(batch map[string]queuedOp) []byte {
	var (
		removeKeys  []string
		setsByValue = make(map[string][]string)
		setValues   = make(map[string]Value)
	)

	for key, op := range batch {
		if op.kind == opRemove {
			removeKeys = append(removeKeys, key)

			continue
		}

		line := stringify(op.value)
		setsByValue[line] = append(setsByValue[line], key)
		setValues[line] = op.value
	}

	// Sort for deterministic output, easing tests and diffing.
	sortedValueLines := make([]string, 0, len(setsByValue))
	for line := range setsByValue {
		sortedValueLines = append(sortedValueLines, line)
	}

	sort.Strings(sortedValueLines)

	var out []byte

	for _, vline := range sortedValueLines {
		keys := setsByValue[vline]
		sort.Strings(keys)

		out = append(out, formatSetLine(keys, setValues[vline])...)
		out = append(out, '\n')
	}

	if len(removeKeys) > 0 {
		sort.Strings(removeKeys)

		out = append(out, formatRemoveLine(removeKeys)...)
		out = append(out, '\n')
	}

	return out
}

// writeBytes appends data to the current log file, lazily creating it on
// first use and rotating when it would exceed MaxFileBytes.
func (a *AOL) writeBytes(data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.curFile == nil {
		err := a.openNewFile()
		if err != nil {
			return err
		}
	} else if a.opts.MaxFileBytes > 0 && a.curSize+int64(len(data)) > a.opts.MaxFileBytes {
		err := a.curFile.Close()
		if err != nil {
			return err
		}

		err = a.openNewFile()
		if err != nil {
			return err
		}
	}

	n, err := a.curFile.Write(data)
	if err != nil {
		return err
	}

	a.curSize += int64(n)

	return a.curFile.Sync()
}

// openNewFile creates the next "<unix_seconds>.sfb" log file, picking a
// later second if one with the current second already exists (guards
// against rotating twice within the same wall-clock second).
func (a *AOL) openNewFile() error {
	sec := time.Now().Unix()

	for {
		name := fmt.Sprintf("%d.sfb", sec)
		path := filepath.Join(a.opts.Dir, name)

		exists, err := a.fsys.Exists(path)
		if err != nil {
			return err
		}

		if !exists {
			f, err := a.fsys.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
			if err != nil {
				return err
			}

			// Advisory-lock the file descriptor so a second process
			// pointed at the same database directory can't also claim
			// ownership of it.
			err = unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
			if err != nil {
				_ = f.Close()

				return fmt.Errorf("aol: lock %q: %w", path, err)
			}

			a.curFile = f
			a.curPath = path
			a.curSize = 0

			return nil
		}

		sec++
	}
}

// CurrentPath returns the path of the log file currently open for writing,
// or "" if none has been created yet.
func (a *AOL) CurrentPath() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.curPath
}

// PendingCount returns the number of distinct keys with a coalesced op
// queued for the next flush, for the `info aol` diagnostic filter.
func (a *AOL) PendingCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return len(a.pending)
}
