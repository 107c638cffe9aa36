package server

import (
	"fmt"
	"sync"

	"github.com/snowflakedb/snowflake/internal/aol"
	"github.com/snowflakedb/snowflake/internal/clog"
	"github.com/snowflakedb/snowflake/internal/config"
	"github.com/snowflakedb/snowflake/internal/fileformat"
	"github.com/snowflakedb/snowflake/internal/recovery"
	"github.com/snowflakedb/snowflake/internal/shard"
	"github.com/snowflakedb/snowflake/internal/store"
	"github.com/snowflakedb/snowflake/pkg/fs"
)

// DefaultSignature is the shard-header identity used when the token
// file's top-level signature field is empty.
var DefaultSignature = fileformat.Signature("SNOWFLK")

// Identity is the deployment identity stamped into and checked against
// every shard header.
type Identity struct {
	Signature [fileformat.SignatureSize]byte
	Version   uint16
}

// DefaultIdentity returns the identity used when no token file overrides it.
func DefaultIdentity() Identity {
	return Identity{Signature: DefaultSignature, Version: fileformat.CurrentVersion}
}

// Server owns the fully wired engine: shards, AOL, and the recovered
// in-memory state, ready to accept sessions. AOL is nil when
// persistent.enabled is false.
type Server struct {
	Engine *store.Engine
	AOL    *aol.AOL
	Shards *Shards
	Logger *clog.Logger

	Compactor *compactor
}

// New bootstraps shard files, replays the AOL, and starts the flusher,
// in that order: headers are validated first, then the backups rebuild
// the in-memory state, and only then does the engine start logging new
// mutations. With persistent.enabled false, both replay and the AOL are
// skipped entirely and the store is memory-only.
func New(fsys fs.FS, cfg config.Config, id Identity, logger *clog.Logger) (*Server, error) {
	shards, err := Bootstrap(fsys, cfg.DatabaseDir, cfg.MeidsCount, id.Signature, id.Version, cfg.MeidsPermission, logger)
	if err != nil {
		return nil, err
	}

	if cfg.MeidsEncrypt && logger != nil {
		// Accepted for config compatibility; no cipher is implemented.
		logger.Warnf("meids.encrypt is set but encryption is not supported; storing plaintext")
	}

	limits := store.Limits{MaxEntryBytes: cfg.MeidsSize}
	if cfg.MemoryMonitor {
		limits.MaxMemoryBytes = cfg.MemoryMaxSize
	}

	engine := store.New(shard.NewSelector(shards.Count()), nil, limits)

	srv := &Server{
		Engine:    engine,
		Shards:    shards,
		Logger:    logger,
		Compactor: &compactor{fsys: fsys, engine: engine, shards: shards},
	}

	if !cfg.PersistentEnabled {
		if logger != nil {
			logger.Warnf("persistence is disabled; mutations will not survive a restart")
		}

		return srv, nil
	}

	var recoveryLogger recovery.Logger
	if logger != nil {
		recoveryLogger = logger
	}

	result, err := recovery.Replay(fsys, cfg.DatabaseDir, engine, recoveryLogger)
	if err != nil {
		_ = shards.Close()

		return nil, fmt.Errorf("server: replay: %w", err)
	}

	if logger != nil {
		logger.Infof("recovered %d line(s) from %d log file(s)", result.LinesApplied, result.FilesReplayed)
	}

	srv.AOL = aol.New(fsys, aol.Options{
		Dir:          cfg.DatabaseDir,
		MaxFileBytes: cfg.BackupSizeLimit,
		OnError: func(err error) {
			if logger != nil {
				logger.Errorf("aol: %v", err)
			}
		},
	})

	// Attach the AOL only now that replay has finished; replay must never
	// be re-logged, so the engine starts with no AOL attached.
	engine.AttachAOL(srv.AOL)

	return srv, nil
}

// Close stops the AOL flusher and closes shard files.
func (s *Server) Close() error {
	var firstErr error

	if s.AOL != nil {
		if err := s.AOL.Close(); err != nil {
			firstErr = err
		}
	}

	if err := s.Shards.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	return firstErr
}

// compactor adapts store.Engine.Compact to command.Compactor.
type compactor struct {
	mu     sync.Mutex
	fsys   fs.FS
	engine *store.Engine
	shards *Shards
}

func (c *compactor) Compact() (store.CompactStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.engine.Compact(c.fsys, c.shards)
}
