// snowflake-cli is an interactive client for the storage engine's TCP
// shell: it dials the server, sends the access token, and
// then pipes a readline-style REPL straight through the line protocol —
// including the `@echo`/`@json`/`@timing` attribute switches.
//
// Usage:
//
//	snowflake-cli [--addr host:port] [--token TOKEN]
package main

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"
)

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "snowflake-cli: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	fs := flag.NewFlagSet("snowflake-cli", flag.ExitOnError)
	addr := fs.String("addr", "127.0.0.1:6402", "host:port of the snowflaked shell")
	token := fs.String("token", "", "access token (prompted if omitted)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: snowflake-cli [--addr host:port] [--token TOKEN]\n\n")
		fs.PrintDefaults()
	}

	err := fs.Parse(os.Args[1:])
	if err != nil {
		return err
	}

	conn, err := net.DialTimeout("tcp", *addr, 10*time.Second)
	if err != nil {
		return fmt.Errorf("dial %s: %w", *addr, err)
	}
	defer conn.Close()

	repl := &REPL{conn: conn, reader: bufio.NewReader(conn)}

	return repl.Run(*token)
}

// REPL drives one connection: it forwards typed lines to the server and
// prints back whatever the server answers with, one line per line —
// both directions of the protocol are newline-delimited.
type REPL struct {
	conn   net.Conn
	reader *bufio.Reader
	liner  *liner.State

	mode      string // "echo" or "json", mirrors the server's own state
	alias     string
	connected bool
}

// historyFile returns the path to the CLI's readline history file.
func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".snowflake_cli_history")
}

// Run performs the authentication handshake, then hands control to the
// interactive loop.
func (r *REPL) Run(token string) error {
	r.mode = "echo"

	greeting, err := r.readLine()
	if err != nil {
		return fmt.Errorf("reading greeting: %w", err)
	}

	fmt.Print(greeting)

	if token == "" {
		token = r.promptToken()
	}

	err = r.writeLine(token)
	if err != nil {
		return fmt.Errorf("sending token: %w", err)
	}

	authLine, err := r.readLine()
	if err != nil {
		return fmt.Errorf("reading auth response: %w", err)
	}

	fmt.Print(authLine)

	if !strings.Contains(authLine, "welcome") {
		return fmt.Errorf("authentication failed")
	}

	if _, alias, ok := strings.Cut(strings.TrimSpace(authLine), "welcome, "); ok {
		r.alias = alias
	}

	r.connected = true

	promptLine, err := r.readLine()
	if err == nil {
		fmt.Print(promptLine)
	}

	return r.loop()
}

func (r *REPL) promptToken() string {
	reader := bufio.NewReader(os.Stdin)

	input, _ := reader.ReadString('\n')

	return strings.TrimRight(input, "\r\n")
}

func (r *REPL) loop() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(historyFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}

	for {
		prompt := fmt.Sprintf("%s> ", r.alias)
		if r.alias == "" {
			prompt = "snowflake> "
		}

		line, err := r.liner.Prompt(prompt)
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Println("\nBye!")

				break
			}

			return fmt.Errorf("reading input: %w", err)
		}

		if strings.TrimSpace(line) == "" {
			continue
		}

		r.liner.AppendHistory(line)

		err = r.writeLine(line)
		if err != nil {
			return fmt.Errorf("sending command: %w", err)
		}

		resp, err := r.readLine()
		if err != nil {
			fmt.Println("connection closed by server")

			break
		}

		fmt.Print(resp)

		trimmed := strings.TrimSpace(line)
		isAttribute := strings.HasPrefix(trimmed, "@")

		// Echo mode re-prompts after every non-attribute command; drain
		// that extra line so the next Prompt() call stays in sync with
		// the server's line protocol.
		if !isAttribute && r.mode == "echo" {
			_, _ = r.readLine()
		}

		if isAttribute {
			r.trackAttribute(line)
		}

		if strings.HasPrefix(trimmed, "exit") {
			break
		}
	}

	r.saveHistory()

	return nil
}

// trackAttribute keeps the prompt's mode label in sync when the user
// sends @echo/@json so the next prompt reflects the server's state.
func (r *REPL) trackAttribute(line string) {
	switch strings.TrimSpace(line) {
	case "@echo":
		r.mode = "echo"
	case "@json":
		r.mode = "json"
	}
}

func (r *REPL) completer(line string) []string {
	commands := []string{
		"help", "clear", "cls", "exit",
		"info", "get", "set", "delete", "remove", "compact",
		"sanitize", "@echo", "@json", "@timing on", "@timing off",
	}

	var completions []string

	lower := strings.ToLower(line)
	for _, cmd := range commands {
		if strings.HasPrefix(cmd, lower) {
			completions = append(completions, cmd)
		}
	}

	return completions
}

func (r *REPL) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			r.liner.WriteHistory(f)
			f.Close()
		}
	}
}

func (r *REPL) writeLine(s string) error {
	_, err := io.WriteString(r.conn, s+"\n")

	return err
}

func (r *REPL) readLine() (string, error) {
	return r.reader.ReadString('\n')
}
