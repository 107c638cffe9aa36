// Package recovery replays append-only log files into the core engine
// at startup. Replay applies every "set"/"remove" line in file
// order, oldest file first, line by line within each file; a corrupt line
// or file is logged and skipped rather than aborting the whole replay,
// since the AOL's durability guarantee already admits losing at most the
// last flush interval's writes, never more.
package recovery

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/snowflakedb/snowflake/internal/aol"
	"github.com/snowflakedb/snowflake/internal/codec"
	"github.com/snowflakedb/snowflake/internal/store"
	"github.com/snowflakedb/snowflake/pkg/fs"
)

// Engine is the narrow interface recovery needs from the core engine:
// the unsafe variants, so replayed mutations are never themselves logged
// back to the AOL. Implemented by *store.Engine.
type Engine interface {
	SetUnsafe(key string, value codec.Value) (store.SetResult, error)
	RemoveUnsafe(key string) (bool, error)
}

// Logger is the narrow interface recovery needs for reporting skipped
// lines/files. Implemented by *clog.Logger.
type Logger interface {
	Warnf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Warnf(string, ...any) {}

// Result summarizes a completed replay.
type Result struct {
	FilesReplayed int
	LinesApplied  int
	LinesSkipped  int
}

// Replay walks dir for "*.sfb" log files in ascending lexical/numeric
// order (the filenames are unix-second timestamps, so lexical order is
// chronological) and applies every line to engine.
func Replay(fsys fs.FS, dir string, engine Engine, logger Logger) (Result, error) {
	if logger == nil {
		logger = nopLogger{}
	}

	files, err := logFiles(fsys, dir)
	if err != nil {
		return Result{}, fmt.Errorf("recovery: list %q: %w", dir, err)
	}

	var result Result

	for _, path := range files {
		n, skipped, err := replayFile(fsys, path, engine, logger)
		if err != nil {
			logger.Warnf("recovery: skipping unreadable log %q: %v", path, err)

			continue
		}

		result.FilesReplayed++
		result.LinesApplied += n
		result.LinesSkipped += skipped
	}

	return result, nil
}

// logFiles returns the ".sfb" files under dir sorted oldest-first.
func logFiles(fsys fs.FS, dir string) ([]string, error) {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, err
	}

	var names []string

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sfb") {
			continue
		}

		names = append(names, e.Name())
	}

	sort.Strings(names)

	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(dir, n)
	}

	return paths, nil
}

func replayFile(fsys fs.FS, path string, engine Engine, logger Logger) (applied, skipped int, err error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return 0, 0, err
	}

	lines, terminated := splitLines(data)
	if !terminated && len(lines) > 0 {
		// A crash mid-write can leave a trailing line without its final
		// newline; ignore it rather than risk applying a truncated
		// record.
		lines = lines[:len(lines)-1]
	}

	for _, line := range lines {
		parsed, parseErr := aol.ParseLine(line)
		if parseErr != nil {
			logger.Warnf("recovery: %s: skipping malformed line: %v", path, parseErr)

			skipped++

			continue
		}

		if parsed == nil {
			continue
		}

		if parsed.IsSet {
			for _, key := range parsed.Keys {
				_, err := engine.SetUnsafe(key, parsed.Value)
				if err != nil {
					logger.Warnf("recovery: %s: set %q failed: %v", path, key, err)

					skipped++

					continue
				}

				applied++
			}
		} else {
			for _, key := range parsed.Keys {
				_, err := engine.RemoveUnsafe(key)
				if err != nil {
					logger.Warnf("recovery: %s: remove %q failed: %v", path, key, err)

					skipped++

					continue
				}

				applied++
			}
		}
	}

	return applied, skipped, nil
}

// splitLines splits data on '\n' into lines (with any '\r' stripped),
// reporting whether the final byte was itself a newline (terminated).
func splitLines(data []byte) (lines []string, terminated bool) {
	text := string(data)
	terminated = strings.HasSuffix(text, "\n")
	text = strings.TrimSuffix(text, "\n")

	if text == "" {
		return nil, terminated
	}

	for _, line := range strings.Split(text, "\n") {
		lines = append(lines, strings.TrimSuffix(line, "\r"))
	}

	return lines, terminated
}
