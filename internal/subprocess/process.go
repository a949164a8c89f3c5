package subprocess

import (
	"bufio"
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/wagiedev/exsi-sdk-go/internal/cli"
	"github.com/wagiedev/exsi-sdk-go/internal/config"
	"github.com/wagiedev/exsi-sdk-go/internal/errors"
)

const (
	// maxScanTokenSize is the maximum buffer size for reading worker output lines.
	maxScanTokenSize = 1024 * 1024 // 1MB
	// maxStderrBufferSize is the maximum size for the stderr buffer.
	// Stderr relaying continues indefinitely (callback receives all lines),
	// but the buffer stops growing after this limit to prevent unbounded memory usage.
	maxStderrBufferSize = 1024 * 1024 // 1MB
)

// Process is a running bridge worker.
type Process struct {
	log            *slog.Logger
	options        *config.BridgeOptions
	command        *cli.Command
	cwd            string
	cmd            *exec.Cmd
	stdin          io.WriteCloser
	stdout         io.ReadCloser
	stderr         io.ReadCloser
	stderrCallback func(string) // Callback for streaming stderr output
	mu             sync.Mutex   // Protects stdin writes and lifecycle flags
	closing        bool         // Whether Close() has been called (intentional shutdown)
	stdinClosed    bool         // Whether stdin was closed (the shutdown signal)
	exited         chan struct{}
}

// New creates a worker process handle. The process is spawned by Start.
func New(log *slog.Logger, options *config.BridgeOptions) *Process {
	return &Process{
		log:            log.With("component", "worker_process"),
		options:        options,
		stderrCallback: options.LogSink,
		exited:         make(chan struct{}),
	}
}

// Start discovers the worker executable and spawns it with stdin, stdout
// and stderr pipes.
//
// The process outlives ctx; it ends when its stdin is closed, when it is
// killed by Close or on its own.
//
// Returns WorkerNotFoundError if no executable can be located, or
// ProcessError if the process fails to start.
func (p *Process) Start(ctx context.Context) error {
	p.log.Info("Starting worker process")

	discoverer := cli.NewDiscoverer(&cli.Config{
		WorkerPath:       p.options.WorkerPath,
		SkipVersionCheck: p.options.SkipVersionCheck,
		Logger:           p.log,
	})

	path, err := discoverer.Discover(ctx)
	if err != nil {
		return fmt.Errorf("discover worker: %w", err)
	}

	p.command = cli.BuildCommand(path, p.options)
	p.log.Debug("Built worker command", "command", p.command.String())

	p.cwd = p.options.Cwd
	if p.cwd == "" {
		p.cwd, err = os.Getwd()
		if err != nil {
			return fmt.Errorf("get working directory: %w", err)
		}
	}

	//nolint:gosec // G204: the worker path comes from discovery
	cmd := exec.Command(p.command.Path, p.command.Args...)
	cmd.Dir = p.cwd
	cmd.Env = p.command.Env

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &errors.ProcessError{ExitCode: -1, Err: fmt.Errorf("stdin pipe: %w", err)}
	}

	p.stdin = stdin

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &errors.ProcessError{ExitCode: -1, Err: fmt.Errorf("stdout pipe: %w", err)}
	}

	p.stdout = stdout

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &errors.ProcessError{ExitCode: -1, Err: fmt.Errorf("stderr pipe: %w", err)}
	}

	p.stderr = stderr

	if err := cmd.Start(); err != nil {
		p.log.Error("Failed to start worker process", "error", err)

		return &errors.ProcessError{ExitCode: -1, Err: fmt.Errorf("start process: %w", err)}
	}

	p.mu.Lock()
	p.cmd = cmd
	p.mu.Unlock()

	p.log.Info("Worker process started", "pid", cmd.Process.Pid)

	return nil
}

// ReadMessages reads newline-delimited messages from the worker stdout and
// relays its stderr line by line to the log sink.
//
// The goroutine exits when the worker closes stdout (normally by exiting)
// or ctx is cancelled. After stdout closes it waits for the process; an
// abnormal exit that was not caused by Close is sent to the error channel
// as a ProcessError. Both channels are closed when it exits, and Exited is
// closed once the process has been reaped.
//
// ReadMessages must be called exactly once after Start.
func (p *Process) ReadMessages(ctx context.Context) (<-chan []byte, <-chan error) {
	messages := make(chan []byte)
	errs := make(chan error, 1)

	var stderrWg sync.WaitGroup

	var stderrBuffer strings.Builder

	var stderrMu sync.Mutex

	// Always buffer stderr for error reporting (must complete reads before Wait())
	// See: https://pkg.go.dev/os/exec#Cmd.StderrPipe
	stderrWg.Go(func() {
		// Ends when the worker exits or is killed and the OS closes the pipe.
		scanner := bufio.NewScanner(p.stderr)
		scanner.Buffer(make([]byte, 64*1024), maxScanTokenSize)

		for scanner.Scan() {
			line := scanner.Text()

			stderrMu.Lock()

			if stderrBuffer.Len() < maxStderrBufferSize {
				if stderrBuffer.Len() > 0 {
					stderrBuffer.WriteString("\n")
				}

				stderrBuffer.WriteString(line)
			}

			stderrMu.Unlock()

			if p.stderrCallback != nil {
				p.stderrCallback(line)
			} else {
				p.log.Info("worker: " + line)
			}
		}

		if err := scanner.Err(); err != nil {
			p.log.Debug("Stderr scanner error", "error", err)
		}
	})

	go func() {
		defer close(p.exited)
		defer close(messages)
		defer close(errs)
		defer p.log.Debug("ReadMessages goroutine stopped")

		scanner := bufio.NewScanner(p.stdout)
		buf := make([]byte, maxScanTokenSize)
		scanner.Buffer(buf, maxScanTokenSize)

		messageCount := 0

		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}

			messageCount++
			p.log.Debug("Received message from worker", "message_count", messageCount)

			select {
			case messages <- bytes.Clone(line):
			case <-ctx.Done():
				p.log.Debug("Context cancelled during message send", "error", ctx.Err())

				// Keep draining so the worker never blocks on a full pipe.
				_, _ = io.Copy(io.Discard, p.stdout)
			}
		}

		if err := scanner.Err(); err != nil {
			p.log.Error("Scanner error while reading worker output", "error", err)
		}

		// Wait for stderr goroutine before process wait
		stderrWg.Wait()

		p.log.Debug("Waiting for worker process to exit")

		if err := p.cmd.Wait(); err != nil {
			p.mu.Lock()
			isClosing := p.closing
			p.mu.Unlock()

			if isClosing {
				p.log.Debug("Worker process terminated during shutdown")

				return
			}

			stderrMu.Lock()
			stderrOutput := strings.TrimSpace(stderrBuffer.String())
			stderrMu.Unlock()

			exitCode := -1

			if exitErr, ok := stderrors.AsType[*exec.ExitError](err); ok {
				exitCode = exitErr.ExitCode()
			}

			p.log.Error("Worker process exited with error", "exit_code", exitCode)

			errs <- &errors.ProcessError{
				ExitCode: exitCode,
				Stderr:   lastLines(stderrOutput, 20),
				Err:      err,
			}

			return
		}

		p.log.Info("Worker process exited")
	}()

	return messages, errs
}

// SendMessage writes one message line to the worker stdin.
//
// This method is safe for concurrent use and respects context cancellation
// even during blocking writes. If the context is cancelled during a blocked
// write, stdin is closed to unblock it, which also tells the worker to shut
// down.
func (p *Process) SendMessage(ctx context.Context, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stdin == nil {
		return errors.ErrTransportNotConnected
	}

	if p.stdinClosed {
		return &errors.ShutdownError{Op: "send to worker"}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	// Use explicit copy to avoid mutating caller's backing array if slice has spare capacity
	if len(data) == 0 || data[len(data)-1] != '\n' {
		newData := make([]byte, len(data)+1)
		copy(newData, data)
		newData[len(data)] = '\n'
		data = newData
	}

	done := make(chan error, 1)

	go func() {
		_, err := p.stdin.Write(data)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			p.log.Error("Failed to write message to worker", "error", err)

			return fmt.Errorf("write to worker stdin: %w", err)
		}

		return nil

	case <-ctx.Done():
		p.log.Debug("Context cancelled during write, closing stdin")

		_ = p.stdin.Close()
		p.stdinClosed = true

		select {
		case <-done:
		case <-time.After(1 * time.Second):
			p.log.Warn("Write goroutine did not exit after stdin close, potential leak")
		}

		return ctx.Err()
	}
}

// CloseStdin closes the worker's stdin. The worker treats end of input as
// its shutdown signal. It's safe to call CloseStdin multiple times.
func (p *Process) CloseStdin() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stdin == nil || p.stdinClosed {
		return nil
	}

	p.log.Debug("Closing worker stdin")

	p.stdinClosed = true

	return p.stdin.Close()
}

// Terminate sends SIGTERM to the worker.
func (p *Process) Terminate() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd == nil || p.cmd.Process == nil {
		return nil
	}

	return p.cmd.Process.Signal(syscall.SIGTERM)
}

// Exited returns a channel that is closed once the worker has been reaped.
func (p *Process) Exited() <-chan struct{} {
	return p.exited
}

// Pid returns the worker's process ID, or 0 before Start.
func (p *Process) Pid() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}

	return p.cmd.Process.Pid
}

// IsReady returns true if the worker is running and stdin is open.
func (p *Process) IsReady() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.cmd != nil && p.cmd.Process != nil && p.stdin != nil && !p.stdinClosed
}

// Close kills the worker. It's safe to call Close multiple times or on an
// already-terminated process.
func (p *Process) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closing = true
	p.stdinClosed = true

	if p.cmd == nil || p.cmd.Process == nil {
		return nil
	}

	select {
	case <-p.exited:
		return nil
	default:
	}

	p.log.Debug("Killing worker process", "pid", p.cmd.Process.Pid)

	if err := p.cmd.Process.Kill(); err != nil && !stderrors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill worker process (pid %d): %w", p.cmd.Process.Pid, err)
	}

	return nil
}

// lastLines keeps the last n lines of s.
func lastLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}

	return strings.Join(lines[len(lines)-n:], "\n")
}
