// Package subprocess runs external commands with structured log streaming,
// an idle watchdog, and graceful-then-forceful cancellation (spec.md §5),
// grounded on the teacher's internal/boot killProcessCleanly pattern and
// its stdin-piped exec.Cmd invocation style.
package subprocess

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zforge/zforge/internal/common"
)

// DefaultIdleThreshold is the default watchdog window from spec.md §5.
const DefaultIdleThreshold = 15 * time.Minute

// killGrace is the SIGTERM-to-SIGKILL grace period from spec.md §5.
const killGrace = 10 * time.Second

// tailLines is how many trailing output lines are kept for error reporting
// (spec.md §7: "the last 40 lines of captured subprocess output").
const tailLines = 40

// Result carries what happened, win or lose.
type Result struct {
	Argv     []string
	ExitCode int
	Stdout   string
	Tail     []string
}

// Error wraps a non-zero exit or cancellation with the argv, exit code, and
// captured output tail, per spec.md §4.3's Run contract.
type Error struct {
	Argv     []string
	ExitCode int
	Tail     []string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("command %v: %v (exit %d)\n%s", e.Argv, e.Err, e.ExitCode, joinTail(e.Tail))
}

func (e *Error) Unwrap() error { return e.Err }

func joinTail(lines []string) string {
	var b bytes.Buffer
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	return b.String()
}

// Options configures a Run invocation.
type Options struct {
	Dir           string
	Env           []string
	Stdin         io.Reader
	IdleThreshold time.Duration
	Log           *logrus.Entry
}

// Run executes argv[0] with argv[1:], streaming combined output line by line
// to Log at Debug level. If no output arrives for IdleThreshold, the process
// is cancelled and ErrStalled is returned wrapped in *Error. On cancellation
// via ctx, the process receives SIGTERM and is given killGrace before
// SIGKILL.
func Run(ctx context.Context, argv []string, opts Options) (*Result, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("%w: empty argv", common.ErrValidation)
	}

	log := opts.Log
	if log == nil {
		log = logrus.WithField("argv", argv)
	} else {
		log = log.WithField("argv", argv)
	}

	idle := opts.IdleThreshold
	if idle <= 0 {
		idle = DefaultIdleThreshold
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = opts.Dir
	cmd.Env = opts.Env
	if opts.Stdin != nil {
		cmd.Stdin = opts.Stdin
	}
	// Graceful-then-forceful cancellation (spec.md §5): on context
	// cancellation the stdlib sends SIGTERM via Cancel and escalates to
	// SIGKILL if the process hasn't exited within WaitDelay, mirroring the
	// teacher's killProcessCleanly without a second concurrent Wait call.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = killGrace

	// Wait returns only after all output has been copied into pw, so the
	// reader sees every line before pw is closed below.
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		if ctx.Err() != nil {
			return nil, &Error{Argv: argv, ExitCode: -1, Err: common.ErrCancelled}
		}
		return nil, fmt.Errorf("starting %v: %w", argv, err)
	}

	var (
		mu       sync.Mutex
		all      bytes.Buffer
		tail     []string
		lastLine = make(chan struct{}, 1)
	)
	recordLine := func(line string) {
		mu.Lock()
		all.WriteString(line)
		all.WriteByte('\n')
		tail = append(tail, line)
		if len(tail) > tailLines {
			tail = tail[len(tail)-tailLines:]
		}
		mu.Unlock()
		log.Debug(line)
		select {
		case lastLine <- struct{}{}:
		default:
		}
	}

	readDone := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			recordLine(scanner.Text())
		}
		readDone <- scanner.Err()
	}()

	stalled := make(chan struct{})
	watchdogDone := make(chan struct{})
	go func() {
		defer close(watchdogDone)
		timer := time.NewTimer(idle)
		defer timer.Stop()
		for {
			select {
			case <-lastLine:
				timer.Reset(idle)
			case <-timer.C:
				close(stalled)
				return
			case <-runCtx.Done():
				return
			}
		}
	}()

	var waitErr error
	waitDone := make(chan struct{})
	go func() {
		waitErr = cmd.Wait()
		pw.Close()
		close(waitDone)
	}()

	var cancelErr error
	select {
	case <-stalled:
		cancelErr = common.ErrStalled
		cancel()
		<-waitDone
	case <-ctx.Done():
		cancelErr = common.ErrCancelled
		cancel()
		<-waitDone
	case <-waitDone:
	}

	if cancelErr != nil {
		mu.Lock()
		tailCopy := append([]string(nil), tail...)
		mu.Unlock()
		return nil, &Error{Argv: argv, ExitCode: -1, Tail: tailCopy, Err: cancelErr}
	}

	<-readDone

	mu.Lock()
	result := &Result{Argv: argv, Stdout: all.String(), Tail: append([]string(nil), tail...)}
	mu.Unlock()

	if waitErr != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if asExitError(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		result.ExitCode = exitCode
		return result, &Error{Argv: argv, ExitCode: exitCode, Tail: result.Tail, Err: waitErr}
	}

	return result, nil
}

func asExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}
