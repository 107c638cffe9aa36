package command

import (
	"fmt"
	"time"

	"github.com/snowflakedb/snowflake/internal/codec"
	"github.com/snowflakedb/snowflake/internal/status"
	"github.com/snowflakedb/snowflake/internal/store"
)

// Result is what an executor returns: a human-readable message, an
// optional value to print, a status code, and whether the value should
// be rendered alongside the message.
type Result struct {
	Message    string
	Value      codec.Value
	Status     status.Code
	PrintValue bool
}

// Engine is the narrow interface commands need from the core API.
// Implemented by *store.Engine.
type Engine interface {
	Set(key string, value codec.Value) (store.SetResult, error)
	Get(key string, def codec.Value) codec.Value
	Remove(key string) (bool, error)
	Exist(key string) bool
	Stats() store.Stats
}

// Compactor is the narrow interface the `compact` command needs.
// Implemented by a server-level wrapper around *store.Engine.Compact,
// which also owns the shard file handles.
type Compactor interface {
	Compact() (store.CompactStats, error)
}

// AOLInfo is the narrow interface the `info aol` filter needs.
// Implemented by *aol.AOL.
type AOLInfo interface {
	CurrentPath() string
	PendingCount() int
}

// Context carries everything an executor needs beyond its parsed
// arguments, starting with the engine. The JSON field is not set by the
// session layer and no built-in command reads it; output formatting for
// JSON mode is done entirely by the session.
type Context struct {
	Engine    Engine
	Compactor Compactor // nil if compaction is unavailable (e.g. in-memory-only tests)
	JSON      bool

	// ShardCount, AOL, and StartedAt back the `info shards`/`info aol`/
	// `info uptime` diagnostic filters. All are optional: a zero-value
	// Context prints "n/a" for the filters it can't back.
	ShardCount int
	AOL        AOLInfo
	StartedAt  time.Time
}

// validator reports whether parsed arguments are well-formed for this
// command, before the executor runs.
type validator func(p Parsed) bool

// executor performs the command and produces its result.
type executor func(p Parsed, ctx *Context) Result

// Command pairs a name with its validator/executor and help text.
type Command struct {
	Name     string
	Aliases  []string
	Help     string
	Validate validator
	Execute  executor
}

// Registry dispatches tokenized lines to registered commands.
type Registry struct {
	byName map[string]*Command
	order  []*Command
}

// NewRegistry returns a Registry preloaded with the built-in commands:
// help, clear/cls, exit, info, get, set, delete/remove, sanitize, and
// compact.
func NewRegistry() *Registry {
	r := &Registry{byName: make(map[string]*Command)}

	for _, c := range builtins(r) {
		r.Register(c)
	}

	return r
}

// Register adds cmd under its name and every alias.
func (r *Registry) Register(cmd *Command) {
	r.byName[cmd.Name] = cmd
	r.order = append(r.order, cmd)

	for _, alias := range cmd.Aliases {
		r.byName[alias] = cmd
	}
}

// Lookup finds a command by name or alias.
func (r *Registry) Lookup(name string) (*Command, bool) {
	c, ok := r.byName[name]

	return c, ok
}

// All returns every registered command in registration order (not
// including alias duplicates), for `help` with no arguments.
func (r *Registry) All() []*Command {
	return r.order
}

// Dispatch tokenizes line, finds the named command, validates, and
// executes it, converting a panicking executor into
// status.UnexpectedError.
func (r *Registry) Dispatch(line string, ctx *Context) Result {
	p := Tokenize(line)
	if p.Name == "" {
		return Result{Message: "", Status: status.CommandNotFound}
	}

	cmd, ok := r.Lookup(p.Name)
	if !ok {
		return Result{Message: fmt.Sprintf("unknown command %q", p.Name), Status: status.CommandNotFound}
	}

	if cmd.Validate != nil && !cmd.Validate(p) {
		return Result{Message: fmt.Sprintf("invalid arguments for %q", p.Name), Status: status.CommandMismatch}
	}

	return r.safeExecute(cmd, p, ctx)
}

func (r *Registry) safeExecute(cmd *Command, p Parsed, ctx *Context) (result Result) {
	defer func() {
		if rec := recover(); rec != nil {
			result = Result{Message: fmt.Sprintf("internal error: %v", rec), Status: status.UnexpectedError}
		}
	}()

	return cmd.Execute(p, ctx)
}
