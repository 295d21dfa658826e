package process

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/smazurov/screenscribe/internal/logging"
)

// LogParser splits a stderr line into a level (ffmpeg vocabulary) and message.
type LogParser func(line string) (level, msg string)

// ExitKilled is reported when the process had to be force-killed.
const ExitKilled = 137

// Process runs one subprocess. Stdin and stdout may be wired to the caller;
// otherwise stdout is logged like stderr.
type Process struct {
	id      string
	command string
	logger  logging.Logger

	outputLogger logging.Logger
	parser       LogParser
	stdin        io.Reader
	stdout       io.Writer

	gracefulTimeout time.Duration
	killTimeout     time.Duration

	mu  sync.Mutex
	cmd *exec.Cmd
}

// New creates a process for command, a shell-like string that is split on
// spaces with quote and backslash handling.
func New(id, command string, logger logging.Logger) *Process {
	return &Process{
		id:              id,
		command:         command,
		logger:          logger,
		gracefulTimeout: 5 * time.Second,
		killTimeout:     5 * time.Second,
	}
}

func (p *Process) ID() string      { return p.id }
func (p *Process) Command() string { return p.command }

// SetLogParser routes subprocess output to logger, leveled by parser.
func (p *Process) SetLogParser(logger logging.Logger, parser LogParser) {
	p.outputLogger = logger
	p.parser = parser
}

// SetStdin feeds r to the subprocess. The copy ends when r returns an error
// or EOF; the caller owns r and closes it to end input.
func (p *Process) SetStdin(r io.Reader) { p.stdin = r }

// SetStdout sends the subprocess stdout to w instead of the log.
func (p *Process) SetStdout(w io.Writer) { p.stdout = w }

// SetTimeouts overrides the SIGINT grace period and the post-kill wait.
func (p *Process) SetTimeouts(graceful, kill time.Duration) {
	p.gracefulTimeout = graceful
	p.killTimeout = kill
}

// Run starts the subprocess and blocks until it exits or ctx is done. On
// cancellation it sends SIGINT, then SIGKILL after the grace period. The
// returned error is non-nil only when the process could not be started.
func (p *Process) Run(ctx context.Context) (int, error) {
	args, err := parseCommand(p.command)
	if err != nil {
		return 1, err
	}
	if len(args) == 0 {
		return 1, errors.New("empty command")
	}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdinPipe io.WriteCloser
	if p.stdin != nil {
		if stdinPipe, err = cmd.StdinPipe(); err != nil {
			return 1, fmt.Errorf("stdin pipe: %w", err)
		}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 1, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return 1, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return 1, fmt.Errorf("start %s: %w", args[0], err)
	}
	p.mu.Lock()
	p.cmd = cmd
	p.mu.Unlock()
	p.logger.Debug("Process started", "id", p.id, "pid", cmd.Process.Pid, "command", p.command)

	if stdinPipe != nil {
		go func() {
			if _, err := io.Copy(stdinPipe, p.stdin); err != nil && !errors.Is(err, syscall.EPIPE) && !errors.Is(err, os.ErrClosed) {
				p.logger.Debug("Stdin copy ended", "id", p.id, "error", err)
			}
			stdinPipe.Close()
		}()
	}

	var output sync.WaitGroup
	output.Add(2)
	go func() {
		defer output.Done()
		if p.stdout != nil {
			_, _ = io.Copy(p.stdout, stdout)
			return
		}
		p.streamOutput(stdout, "stdout")
	}()
	go func() {
		defer output.Done()
		p.streamOutput(stderr, "stderr")
	}()

	exited := make(chan error, 1)
	go func() {
		output.Wait()
		exited <- cmd.Wait()
	}()

	select {
	case err := <-exited:
		code := exitCode(err)
		if err != nil && code == 1 {
			p.logger.Warn("Process failed", "id", p.id, "error", err)
		}
		return code, nil
	case <-ctx.Done():
		p.logger.Debug("Stopping process", "id", p.id, "pid", cmd.Process.Pid)
		if err := cmd.Process.Signal(syscall.SIGINT); err != nil && !errors.Is(err, os.ErrProcessDone) {
			p.logger.Warn("SIGINT failed", "id", p.id, "error", err)
		}
		return p.awaitExit(cmd, exited), nil
	}
}

// awaitExit waits out the grace period and force-kills the process group
// when it expires.
func (p *Process) awaitExit(cmd *exec.Cmd, exited <-chan error) int {
	select {
	case err := <-exited:
		return exitCode(err)
	case <-time.After(p.gracefulTimeout):
	}

	p.logger.Warn("Grace period expired, killing process", "id", p.id, "timeout", p.gracefulTimeout)
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			p.logger.Error("Kill failed", "id", p.id, "error", err)
		}
	}

	select {
	case <-exited:
	case <-time.After(p.killTimeout):
		p.logger.Error("Process did not exit after SIGKILL", "id", p.id)
	}
	return ExitKilled
}

func (p *Process) streamOutput(r io.Reader, source string) {
	logger := p.outputLogger
	if logger == nil {
		logger = p.logger
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		level, msg := "info", scanner.Text()
		if p.parser != nil {
			level, msg = p.parser(msg)
		}
		switch level {
		case "panic", "fatal", "error":
			logger.Error(msg, "id", p.id)
		case "warning":
			logger.Warn(msg, "id", p.id)
		case "info":
			logger.Info(msg, "id", p.id)
		default:
			logger.Debug(msg, "id", p.id)
		}
	}
	if err := scanner.Err(); err != nil {
		p.logger.Debug("Output read ended", "id", p.id, "source", source, "error", err)
	}
}

// Output runs command to completion with stdin as input and returns its
// stdout. A non-zero exit is an error.
func Output(ctx context.Context, id, command string, stdin io.Reader, logger logging.Logger, parser LogParser) ([]byte, error) {
	var out bytes.Buffer
	p := New(id, command, logger)
	p.SetLogParser(logger, parser)
	if stdin != nil {
		p.SetStdin(stdin)
	}
	p.SetStdout(&out)

	code, err := p.Run(ctx)
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if code != 0 {
		return nil, fmt.Errorf("%s exited with code %d", id, code)
	}
	return out.Bytes(), nil
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}

// parseCommand splits a command line, honouring single and double quotes
// and backslash escapes.
func parseCommand(command string) ([]string, error) {
	var (
		args    []string
		current strings.Builder
		quote   rune
		started bool
	)

	runes := []rune(strings.TrimSpace(command))
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case quote != 0 && r == quote:
			quote = 0
		case quote == 0 && (r == '"' || r == '\''):
			quote = r
			started = true
		case quote == 0 && r == ' ':
			if started {
				args = append(args, current.String())
				current.Reset()
				started = false
			}
		case r == '\\' && i+1 < len(runes):
			i++
			current.WriteRune(runes[i])
			started = true
		default:
			current.WriteRune(r)
			started = true
		}
	}
	if quote != 0 {
		return nil, errors.New("unclosed quote in command")
	}
	if started {
		args = append(args, current.String())
	}
	return args, nil
}
