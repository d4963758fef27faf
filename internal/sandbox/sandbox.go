package sandbox

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os/exec"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultTimeoutMs bounds user code wall-clock time when the node
	// doesn't configure one.
	DefaultTimeoutMs = 5000

	// MaxResultBytes caps the serialized result size (10 MiB). Results
	// above this are rejected even when the computation succeeded.
	MaxResultBytes = 10 << 20

	// readyTimeout bounds how long we wait for the worker's handshake.
	readyTimeout = 10 * time.Second
)

// TimeoutError reports that user code exceeded its wall-clock budget.
// The worker process has been killed by the time this is returned.
type TimeoutError struct {
	TimeoutMs int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("sandbox: execution exceeded timeout of %dms", e.TimeoutMs)
}

// RuntimeError reports an error thrown by the user code itself.
type RuntimeError struct {
	Message string
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("sandbox: runtime error: %s", e.Message)
}

// SizeLimitError reports a result whose serialized form exceeds MaxResultBytes.
type SizeLimitError struct {
	Size  int
	Limit int
}

func (e *SizeLimitError) Error() string {
	return fmt.Sprintf("sandbox: result size %d bytes exceeds limit of %d bytes", e.Size, e.Limit)
}

// request is the single message the host writes to a worker.
type request struct {
	ID        string         `json:"id"`
	Code      string         `json:"code"`
	Inputs    any            `json:"inputs"`
	Variables map[string]any `json:"variables"`
	Timeout   int            `json:"timeout"`
}

// message is every line the worker writes back: the initial ready handshake,
// out-of-band console forwards, and the final success or error.
type message struct {
	ID     string          `json:"id,omitempty"`
	Type   string          `json:"type"` // ready, console, success, error
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	Data   any             `json:"data,omitempty"`
}

// ConsoleFunc receives console.log output forwarded from the sandboxed code.
type ConsoleFunc func(data any)

// Runner executes untrusted JavaScript in an isolated worker process, one
// process per call. The worker sees only a frozen copy of the inputs and
// variables and an allow-listed set of globals; it has no ambient access to
// the host's network, filesystem, or engine state. On timeout the whole
// process is killed, never just the logical operation.
type Runner struct {
	nodePath string
}

// NewRunner locates the worker binary. Execute fails cleanly when the
// binary is unavailable.
func NewRunner() *Runner {
	path, err := exec.LookPath("node")
	if err != nil {
		log.Printf("⚠️ [SANDBOX] node binary not found; code nodes will fail: %v", err)
		return &Runner{}
	}
	return &Runner{nodePath: path}
}

// Available reports whether the worker binary was found.
func (r *Runner) Available() bool {
	return r.nodePath != ""
}

// Execute runs one piece of user code with the given inputs and a read-only
// snapshot of variables. timeoutMs <= 0 selects DefaultTimeoutMs. onConsole,
// if non-nil, receives forwarded console.log payloads as they arrive.
func (r *Runner) Execute(ctx context.Context, code string, inputs any, variables map[string]any, timeoutMs int, onConsole ConsoleFunc) (any, error) {
	if r.nodePath == "" {
		return nil, fmt.Errorf("sandbox: node binary not available on this host")
	}
	if timeoutMs <= 0 {
		timeoutMs = DefaultTimeoutMs
	}

	cmd := exec.Command(r.nodePath, "-e", workerScript)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("sandbox: failed to open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("sandbox: failed to open stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("sandbox: failed to start worker: %w", err)
	}

	// The worker must never outlive this call, whatever path returns.
	defer func() {
		cmd.Process.Kill()
		cmd.Wait()
	}()

	msgCh := make(chan message, 16)
	readErrCh := make(chan error, 1)
	go readMessages(stdout, msgCh, readErrCh)

	// Handshake before the first request.
	select {
	case msg := <-msgCh:
		if msg.Type != "ready" {
			return nil, fmt.Errorf("sandbox: unexpected handshake message type '%s'", msg.Type)
		}
	case err := <-readErrCh:
		return nil, fmt.Errorf("sandbox: worker died before handshake: %w", err)
	case <-time.After(readyTimeout):
		return nil, fmt.Errorf("sandbox: worker did not become ready within %v", readyTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	req := request{
		ID:        uuid.New().String(),
		Code:      code,
		Inputs:    inputs,
		Variables: variables,
		Timeout:   timeoutMs,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("sandbox: failed to serialize request: %w", err)
	}
	if _, err := stdin.Write(append(payload, '\n')); err != nil {
		return nil, fmt.Errorf("sandbox: failed to send request: %w", err)
	}

	// Watchdog: after timeoutMs the worker is torn down unconditionally.
	watchdog := time.NewTimer(time.Duration(timeoutMs) * time.Millisecond)
	defer watchdog.Stop()

	for {
		select {
		case msg := <-msgCh:
			switch msg.Type {
			case "console":
				if onConsole != nil {
					onConsole(msg.Data)
				}
			case "success":
				if msg.ID != req.ID {
					continue
				}
				if len(msg.Result) > MaxResultBytes {
					return nil, &SizeLimitError{Size: len(msg.Result), Limit: MaxResultBytes}
				}
				var result any
				if err := json.Unmarshal(msg.Result, &result); err != nil {
					return nil, fmt.Errorf("sandbox: failed to decode result: %w", err)
				}
				return result, nil
			case "error":
				if msg.ID != req.ID && msg.ID != "" {
					continue
				}
				return nil, &RuntimeError{Message: msg.Error}
			}

		case err := <-readErrCh:
			if err == errLineTooLong {
				// The worker produced a line past our read buffer: the
				// result is over the size limit by construction.
				return nil, &SizeLimitError{Size: MaxResultBytes + 1, Limit: MaxResultBytes}
			}
			return nil, &RuntimeError{Message: fmt.Sprintf("worker exited unexpectedly: %v", err)}

		case <-watchdog.C:
			cmd.Process.Kill()
			return nil, &TimeoutError{TimeoutMs: timeoutMs}

		case <-ctx.Done():
			cmd.Process.Kill()
			return nil, ctx.Err()
		}
	}
}

var errLineTooLong = fmt.Errorf("sandbox: worker output line exceeds buffer")

// readMessages decodes newline-delimited JSON messages from the worker until
// EOF or a read error, then reports the terminal error on errCh.
func readMessages(r io.Reader, msgCh chan<- message, errCh chan<- error) {
	scanner := bufio.NewScanner(r)
	// Room for the full result limit plus protocol overhead. A longer line
	// means the result is oversized.
	scanner.Buffer(make([]byte, 64*1024), MaxResultBytes+64*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg message
		if err := json.Unmarshal(line, &msg); err != nil {
			continue // not protocol output, ignore
		}
		msgCh <- msg
	}
	if err := scanner.Err(); err != nil {
		if err == bufio.ErrTooLong {
			errCh <- errLineTooLong
			return
		}
		errCh <- err
		return
	}
	errCh <- io.EOF
}
