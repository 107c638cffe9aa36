// snowflaked is the storage engine's server process: it loads
// configuration, bootstraps shard files, replays the append-only log,
// and then accepts TCP shell connections on server.cli_port.
//
// Usage:
//
//	snowflaked [--config snowflake.yaml] [--tokens tokens.json]
package main

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/snowflakedb/snowflake/internal/clog"
	"github.com/snowflakedb/snowflake/internal/command"
	"github.com/snowflakedb/snowflake/internal/config"
	"github.com/snowflakedb/snowflake/internal/lockdown"
	"github.com/snowflakedb/snowflake/internal/server"
	"github.com/snowflakedb/snowflake/internal/session"
	"github.com/snowflakedb/snowflake/pkg/fs"
)

func main() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	err := run(os.Args[1:], sigCh)
	if err != nil {
		fmt.Fprintf(os.Stderr, "snowflaked: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, sigCh <-chan os.Signal) error {
	flagSet := flag.NewFlagSet("snowflaked", flag.ContinueOnError)
	configPath := flagSet.String("config", "snowflake.yaml", "path to the YAML configuration file")
	tokensPath := flagSet.String("tokens", "tokens.json", "path to the access-token JSON file")

	err := flagSet.Parse(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("setting up logging: %w", err)
	}
	defer closeLog()

	tokenFile, err := session.LoadTokenFile(*tokensPath)
	if err != nil {
		return fmt.Errorf("loading tokens: %w", err)
	}

	realFS := fs.NewReal()

	srv, err := server.New(realFS, cfg, identityFrom(tokenFile), logger)
	if err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}
	defer srv.Close()

	lockdownPath := ".lockdown"

	tracker := lockdown.New(lockdownPath, cfg.CLILockdown, cfg.MaxCLILoginAttempt, cfg.CLICooldown)

	err = tracker.Load()
	if err != nil {
		return fmt.Errorf("loading lockdown state: %w", err)
	}

	registry := command.NewRegistry()
	cmdCtx := &command.Context{
		Engine:     srv.Engine,
		Compactor:  srv.Compactor,
		ShardCount: srv.Shards.Count(),
		StartedAt:  time.Now(),
	}

	if srv.AOL != nil {
		cmdCtx.AOL = srv.AOL
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.CLIPort))
	if err != nil {
		return fmt.Errorf("listening on port %d: %w", cfg.CLIPort, err)
	}
	defer listener.Close()

	logger.Infof("snowflaked listening on :%d (database=%s)", cfg.CLIPort, cfg.DatabaseDir)

	conns := server.NewConnTracker()

	lockdownMode := ""
	if cfg.CLILockdown != config.LockdownNone {
		lockdownMode = string(cfg.CLILockdown)
	}

	go acceptLoop(listener, tokenFile, tracker, lockdownMode, registry, cmdCtx, conns, cfg, logger)

	<-sigCh
	logger.Infof("shutting down")

	return nil
}

func acceptLoop(
	listener net.Listener,
	tokenFile session.TokenFile,
	tracker *lockdown.Tracker,
	lockdownMode string,
	registry *command.Registry,
	cmdCtx *command.Context,
	conns *server.ConnTracker,
	cfg config.Config,
	logger *clog.Logger,
) {
	tokens := session.NewTokenTable(tokenFile)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}

			logger.Warnf("accept: %v", err)

			continue
		}

		go serveConn(conn, tokens, tracker, lockdownMode, registry, cmdCtx, conns, cfg, logger)
	}
}

func serveConn(
	conn net.Conn,
	tokens session.TokenStore,
	tracker *lockdown.Tracker,
	lockdownMode string,
	registry *command.Registry,
	cmdCtx *command.Context,
	conns *server.ConnTracker,
	cfg config.Config,
	logger *clog.Logger,
) {
	defer conn.Close()

	if cfg.LogsSaveCLIConnections {
		logger.Infof("connection from %s", conn.RemoteAddr())
	}

	var eventLogger session.EventLogger
	if cfg.LogsSaveCLILogins {
		eventLogger = logger
	}

	sess := session.New(conn, conn.RemoteAddr().String(), session.Options{
		Tokens:       tokens,
		Lockdown:     tracker,
		LockdownMode: lockdownMode,
		Registry:     registry,
		CommandCtx:   cmdCtx,
		Conns:        conns,
		Logger:       eventLogger,
		MaxInputSize: cfg.CLIInputSize,
		AuthTimeout:  cfg.CLIAuthenticationTimeout,
	})

	err := sess.Run()
	if err != nil {
		logger.Warnf("session %s: %v", sess.ID, err)
	}
}

// identityFrom derives the shard-header identity from the token file's
// top-level signature and meid_version, falling back to the
// built-in defaults when either is unset.
func identityFrom(tf session.TokenFile) server.Identity {
	id := server.DefaultIdentity()

	if tf.Signature != "" {
		id.Signature = tf.SignatureBytes()
	}

	if tf.MeidVersion != 0 {
		id.Version = tf.MeidVersion
	}

	return id
}

// newLogger builds the server's console logger, teeing to a file under
// cfg.LogsDir when logging is enabled (logs.enabled / dir.logs).
func newLogger(cfg config.Config) (*clog.Logger, func(), error) {
	out := io.Writer(os.Stderr)
	closeFn := func() {}

	if cfg.LogsEnabled && cfg.LogsDir != "" {
		err := os.MkdirAll(cfg.LogsDir, 0o755)
		if err != nil {
			return nil, nil, fmt.Errorf("creating logs dir %q: %w", cfg.LogsDir, err)
		}

		path := filepath.Join(cfg.LogsDir, fmt.Sprintf("snowflaked-%d.log", time.Now().Unix()))

		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file %q: %w", path, err)
		}

		out = io.MultiWriter(os.Stderr, f)
		closeFn = func() { f.Close() }
	}

	minLevel := clog.LevelInfo
	if !cfg.LogsEnabled {
		minLevel = clog.LevelError
	}

	logger := clog.New(clog.Options{
		Out:       out,
		MinLevel:  minLevel,
		UseColors: cfg.LogsUseColors,
		ShowTime:  cfg.LogsShowTime,
	})

	return logger, closeFn, nil
}
