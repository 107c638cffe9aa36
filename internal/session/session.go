// Package session implements the per-connection shell FSM:
// token authentication (guarded by the lockdown tracker),
// attribute handling (@echo/@json/@timing), and command dispatch once
// READY.
package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/snowflakedb/snowflake/internal/codec"
	"github.com/snowflakedb/snowflake/internal/command"
	"github.com/snowflakedb/snowflake/internal/lockdown"
	"github.com/snowflakedb/snowflake/internal/status"
)

// State is one of the FSM's three states.
type State int

const (
	AwaitAuth State = iota
	Ready
	Closed
)

// Mode is the output substate: echo (human text) or json (envelopes).
type Mode int

const (
	ModeEcho Mode = iota
	ModeJSON
)

// Conn is the narrow transport interface Session needs: a byte stream
// plus a read deadline, so the per-connection auth timer can be enforced
// without Session owning a net.Conn directly.
type Conn interface {
	io.Reader
	io.Writer
	SetReadDeadline(t time.Time) error
}

// ConnectionCounter tracks live sessions per token, to enforce
// max_connections.
type ConnectionCounter interface {
	Acquire(token string, maxConnections int) bool
	Release(token string)
}

// EventLogger receives session lifecycle notifications
// (logs.save_cli_connections / logs.save_cli_logins).
type EventLogger interface {
	Infof(format string, args ...any)
}

type nopEventLogger struct{}

func (nopEventLogger) Infof(string, ...any) {}

// Session is one client connection's state.
type Session struct {
	ID uuid.UUID

	conn       Conn
	remoteAddr string

	tokens   TokenStore
	lock     *lockdown.Tracker
	lockMode string // "ip" or "token", matching config.Lockdown
	registry *command.Registry
	cmdCtx   *command.Context
	conns    ConnectionCounter
	logger   EventLogger

	maxInputSize int64
	authTimeout  time.Duration

	state  State
	mode   Mode
	timing bool

	alias string
	token string
}

// Options configures a new Session.
type Options struct {
	Tokens       TokenStore
	Lockdown     *lockdown.Tracker
	LockdownMode string // "ip" or "token"; empty disables the lockdown check
	Registry     *command.Registry
	CommandCtx   *command.Context
	Conns        ConnectionCounter
	Logger       EventLogger
	MaxInputSize int64
	AuthTimeout  time.Duration
}

// New constructs a Session in AWAIT_AUTH.
func New(conn Conn, remoteAddr string, opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = nopEventLogger{}
	}

	authTimeout := opts.AuthTimeout
	if authTimeout < time.Second {
		authTimeout = 5 * time.Second
	}

	lock := opts.Lockdown
	if opts.LockdownMode == "" {
		lock = nil
	}

	return &Session{
		ID:           uuid.New(),
		conn:         conn,
		remoteAddr:   remoteAddr,
		tokens:       opts.Tokens,
		lock:         lock,
		lockMode:     opts.LockdownMode,
		registry:     opts.Registry,
		cmdCtx:       opts.CommandCtx,
		conns:        opts.Conns,
		logger:       opts.Logger,
		maxInputSize: opts.MaxInputSize,
		authTimeout:  authTimeout,
		state:        AwaitAuth,
		mode:         ModeEcho,
	}
}

// subject returns the lockdown key for this connection: the remote
// address under mode=ip, or the just-attempted token under mode=token.
func (s *Session) subject(attemptedToken string) string {
	if s.lockMode == "token" {
		return attemptedToken
	}

	return s.remoteAddr
}

// Run drives the FSM to completion: it writes the initial prompt and reads
// newline-delimited input until CLOSED. It returns nil however the
// connection ends (exit command, EOF, auth timeout, or any other read
// error); only a failure to set the read deadline is returned as an error.
func (s *Session) Run() error {
	s.writeLine("Access token: ")

	reader := bufio.NewReader(s.conn)

	for s.state != Closed {
		err := s.conn.SetReadDeadline(s.deadlineFor())
		if err != nil {
			return fmt.Errorf("session: set deadline: %w", err)
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			if s.state == AwaitAuth {
				s.writeEnvelope("timeout", "authentication timed out", codec.Nil(), status.Timeout)
			}

			s.close()

			if err == io.EOF {
				return nil
			}

			return nil
		}

		line = strings.TrimRight(line, "\r\n")

		cont := s.handleLine(line)
		if !cont {
			s.close()

			return nil
		}
	}

	return nil
}

func (s *Session) deadlineFor() time.Time {
	if s.state == AwaitAuth {
		return time.Now().Add(s.authTimeout)
	}

	return time.Time{}
}

// handleLine processes one input line and returns false if the session
// should close after this line.
func (s *Session) handleLine(line string) bool {
	if strings.HasPrefix(line, "@") {
		s.handleAttribute(line)

		return true
	}

	switch s.state {
	case AwaitAuth:
		return s.handleAuth(line)
	case Ready:
		return s.handleCommand(line)
	default:
		return false
	}
}

func (s *Session) handleAttribute(line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}

	switch fields[0] {
	case "@echo":
		s.mode = ModeEcho
		s.writeEnvelope("attribute", "mode switched to echo", codec.Nil(), status.ModeChanged)
	case "@json":
		s.mode = ModeJSON
		s.writeEnvelope("attribute", "mode switched to json", codec.Nil(), status.ModeChanged)
	case "@timing":
		if len(fields) >= 2 && fields[1] == "on" {
			s.timing = true
		} else {
			s.timing = false
		}

		s.writeEnvelope("attribute", "timing updated", codec.Nil(), status.ModeChanged)
	}
}

func (s *Session) handleAuth(token string) bool {
	subject := s.subject(token)

	// A locked-down subject is refused before the token is even looked
	// up, and its session is torn down: attempts are exhausted.
	if s.lock != nil && s.lock.IsLockedDown(subject) {
		s.writeEnvelope("auth", "too many attempts", codec.Nil(), status.AuthorizeAgain)

		return false
	}

	info, ok := s.tokens.Lookup(token)
	if !ok {
		if s.lock != nil {
			_ = s.lock.RecordFailure(subject)

			if s.lock.IsLockedDown(subject) {
				s.writeEnvelope("auth", "too many attempts", codec.Nil(), status.AuthorizeAgain)

				return false
			}
		}

		s.writeEnvelope("auth", "invalid token", codec.Nil(), status.AuthorizeAgain)

		return true
	}

	if s.conns != nil && !s.conns.Acquire(token, info.MaxConnections) {
		s.writeEnvelope("auth", "room full", codec.Nil(), status.FullRoom)

		return false
	}

	s.token = token
	s.alias = info.Alias
	s.state = Ready

	if s.lock != nil {
		_ = s.lock.Reset(subject)
	}

	s.logger.Infof("session %s authorized as %s from %s", s.ID, s.alias, s.remoteAddr)

	s.writeEnvelope("auth", fmt.Sprintf("welcome, %s", s.alias), codec.Nil(), status.Authorized)

	if s.mode == ModeEcho {
		s.writeLine(fmt.Sprintf("%s> ", s.alias))
	}

	return true
}

func (s *Session) handleCommand(line string) bool {
	if s.maxInputSize > 0 && int64(len(line)) > s.maxInputSize {
		s.writeEnvelope("command", "input too large", codec.Nil(), status.SizeLimit)

		return true
	}

	start := time.Now()
	result := s.registry.Dispatch(line, s.cmdCtx)
	elapsed := time.Since(start)

	if result.Status == status.Exit {
		s.writeEnvelope("exit", result.Message, result.Value, result.Status)

		return false
	}

	msg := result.Message
	if result.PrintValue {
		rendered := renderValue(result.Value)
		if msg == "" {
			msg = rendered
		} else {
			msg = msg + "\n" + rendered
		}
	}

	if s.timing && s.mode == ModeEcho {
		msg = fmt.Sprintf("%s\nTook %dms to execute.", msg, elapsed.Milliseconds())
	}

	s.writeEnvelope("command", msg, result.Value, result.Status)

	if s.mode == ModeEcho {
		s.writeLine(fmt.Sprintf("%s> ", s.alias))
	}

	return true
}

// renderValue renders a value for echo-mode text output: bare for
// strings, JSON for everything else (matching the AOL's own textual
// convention for non-scalar values).
func renderValue(v codec.Value) string {
	switch v.Kind() {
	case codec.KindNil:
		return ""
	case codec.KindString:
		s, _ := v.AsString()

		return s
	default:
		data, err := json.Marshal(codec.ToNative(v))
		if err != nil {
			return ""
		}

		return string(data)
	}
}

func (s *Session) writeEnvelope(action, message string, value codec.Value, code status.Code) {
	if s.mode == ModeJSON {
		env := NewEnvelope(action, message, value, code)

		rendered, err := env.Render()
		if err != nil {
			return
		}

		s.writeLine(rendered)

		return
	}

	s.writeLine(message)
}

func (s *Session) writeLine(line string) {
	_, _ = io.WriteString(s.conn, line+"\n")
}

func (s *Session) close() {
	if s.state == Closed {
		return
	}

	s.state = Closed

	if s.conns != nil && s.token != "" {
		s.conns.Release(s.token)
	}

	s.logger.Infof("session %s closed", s.ID)
}
