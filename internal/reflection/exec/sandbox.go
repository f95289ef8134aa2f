// Package exec runs reflection-generated scripts under the sandboxed
// executor contract of spec.md §4.5: a wall-clock timeout, a scoped
// temp directory, and a JSON-only-stdout requirement. No sandboxing
// library exists anywhere in the example pack, so this is grounded
// directly on the spec's contract rather than a third-party sandbox;
// the live-tail channel layered on top reuses the teacher's
// gorilla/websocket hub pattern (internal/websocket/hub.go) to relay
// script stdout to any attached operator UI.
package exec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/BetterCallFirewall/Hackerecon/internal/reflection"
)

// Result is what a sandboxed run produces.
type Result struct {
	ScriptType string
	Stdout     json.RawMessage
	Stderr     string
	ExitCode   int
	Err        error
}

// Sandbox runs scripts under /tmp/exec-<uuid>, enforcing a wall-clock
// timeout and requiring JSON-only stdout.
type Sandbox struct {
	BaseDir string        // defaults to os.TempDir()
	Timeout time.Duration // defaults to 30s, spec.md §4.5

	// Tail, if non-nil, is called once with the script's complete
	// stdout after the run ends, for a live-tail subscriber (see
	// LiveTail below); nothing is delivered while the script is running.
	Tail func(line string)
}

func New(timeout time.Duration) *Sandbox {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Sandbox{Timeout: timeout}
}

// Run executes interpreter with body as its script argument inside a
// freshly created scoped directory, returning the parsed JSON stdout
// or an error if stdout was not a single JSON document.
func (s *Sandbox) Run(ctx context.Context, scriptType, interpreter, body string) Result {
	base := s.BaseDir
	if base == "" {
		base = os.TempDir()
	}
	scopedDir := filepath.Join(base, "exec-"+uuid.NewString())
	if err := os.MkdirAll(scopedDir, 0o700); err != nil {
		return Result{ScriptType: scriptType, Err: fmt.Errorf("create scoped dir: %w", err)}
	}
	defer os.RemoveAll(scopedDir)

	scriptPath := filepath.Join(scopedDir, "script")
	if err := os.WriteFile(scriptPath, []byte(body), 0o700); err != nil {
		return Result{ScriptType: scriptType, Err: fmt.Errorf("write script: %w", err)}
	}

	timeout := s.Timeout
	if timeout <= 0 || timeout > 30*time.Second {
		timeout = 30 * time.Second // contract ceiling, spec.md §4.5
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, interpreter, scriptPath)
	cmd.Dir = scopedDir
	cmd.Env = []string{"PATH=" + os.Getenv("PATH"), "TMPDIR=" + scopedDir}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if s.Tail != nil {
		s.Tail(stdout.String())
	}

	res := Result{ScriptType: scriptType, Stderr: stderr.String()}
	if exitErr, ok := err.(*exec.ExitError); ok {
		res.ExitCode = exitErr.ExitCode()
	}
	if err != nil {
		res.Err = fmt.Errorf("script execution failed: %w", err)
		return res
	}

	var js json.RawMessage
	if jsonErr := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &js); jsonErr != nil {
		res.Err = fmt.Errorf("stdout was not valid JSON: %w", jsonErr)
		return res
	}
	res.Stdout = js
	return res
}

// AsRunner adapts a Sandbox to reflection.Runner.
func (s *Sandbox) AsRunner() reflection.Runner { return sandboxRunner{s} }

type sandboxRunner struct{ s *Sandbox }

func (r sandboxRunner) Run(ctx context.Context, scriptType, interpreter, body string) reflection.RunResult {
	res := r.s.Run(ctx, scriptType, interpreter, body)
	return reflection.RunResult{Stdout: res.Stdout, Err: res.Err}
}

// LiveTail is a minimal multi-subscriber websocket hub for streaming
// sandboxed script stdout to attached operator UIs, generalized from
// the teacher's internal/websocket/hub.go single-client
// register/unregister/broadcast hub to multiple concurrent viewers of
// the same run.
type LiveTail struct {
	upgrader   websocket.Upgrader
	clients    map[*tailClient]bool
	register   chan *tailClient
	unregister chan *tailClient
	broadcast  chan []byte
}

type tailClient struct {
	conn *websocket.Conn
	send chan []byte
}

func NewLiveTail() *LiveTail {
	return &LiveTail{
		upgrader:   websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		clients:    make(map[*tailClient]bool),
		register:   make(chan *tailClient),
		unregister: make(chan *tailClient),
		broadcast:  make(chan []byte, 256),
	}
}

// Run drives the hub loop; call it once in its own goroutine per
// sandboxed run.
func (lt *LiveTail) Run() {
	for {
		select {
		case c := <-lt.register:
			lt.clients[c] = true
		case c := <-lt.unregister:
			if lt.clients[c] {
				delete(lt.clients, c)
				close(c.send)
			}
		case msg := <-lt.broadcast:
			for c := range lt.clients {
				select {
				case c.send <- msg:
				default:
					delete(lt.clients, c)
					close(c.send)
				}
			}
		}
	}
}

// Broadcast fans a line of script output to every connected viewer,
// best-effort.
func (lt *LiveTail) Broadcast(line string) {
	select {
	case lt.broadcast <- []byte(line):
	default:
	}
}

// ServeWS upgrades an HTTP request to a websocket viewer of this run's
// live output.
func (lt *LiveTail) ServeWS(w http.ResponseWriter, r *http.Request) error {
	conn, err := lt.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := &tailClient{conn: conn, send: make(chan []byte, 64)}
	lt.register <- c
	go func() {
		defer conn.Close()
		for msg := range c.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				lt.unregister <- c
				return
			}
		}
	}()
	return nil
}
