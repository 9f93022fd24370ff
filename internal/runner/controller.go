package runner

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Spec describes one inference process invocation.
type Spec struct {
	Bin  string
	Args []string
	Dir  string
	// Timeout is the optional wall-clock limit; 0 means unlimited.
	Timeout time.Duration
	// Grace is how long to wait between the graceful terminate signal and a
	// forced kill. Zero means defaultGrace.
	Grace time.Duration
	// Check verifies the expected output artifacts after a clean exit.
	// A non-nil error fails the run even though the process exited 0.
	Check func() error
}

const defaultGrace = 3 * time.Second

// Process is a handle on a launched inference process.
type Process interface {
	// Terminate asks the process to exit gracefully.
	Terminate() error
	// Kill forcibly ends the process.
	Kill() error
	// Done is closed once the process has exited.
	Done() <-chan struct{}
	// ExitCode is valid after Done is closed; 0 means success.
	ExitCode() int
	// StderrTail returns the last captured stderr output for diagnostics.
	StderrTail() string
}

// Controller launches inference processes. The exec-backed implementation is
// used in production; tests inject a fake to exercise the state machine
// without real processes.
type Controller interface {
	Start(ctx context.Context, spec Spec, onLine func(string)) (Process, error)
}

// ExecController launches real OS processes.
type ExecController struct{}

func (ExecController) Start(ctx context.Context, spec Spec, onLine func(string)) (Process, error) {
	cmd := exec.Command(spec.Bin, spec.Args...)
	cmd.Dir = spec.Dir
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	p := &execProcess{cmd: cmd, done: make(chan struct{})}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scanLines(stdout, onLine, nil)
	}()
	go func() {
		defer wg.Done()
		scanLines(stderr, onLine, p.appendStderr)
	}()
	go func() {
		wg.Wait()
		err := cmd.Wait()
		p.mu.Lock()
		p.exitCode = exitCodeOf(err)
		p.mu.Unlock()
		close(p.done)
	}()
	return p, nil
}

func scanLines(r io.Reader, onLine func(string), also func(string)) {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for s.Scan() {
		line := s.Text()
		if onLine != nil {
			onLine(line)
		}
		if also != nil {
			also(line)
		}
	}
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	if ee, ok := err.(*exec.ExitError); ok {
		return ee.ExitCode()
	}
	return -1
}

const stderrTailLimit = 4096

type execProcess struct {
	cmd      *exec.Cmd
	done     chan struct{}
	mu       sync.Mutex
	exitCode int
	tail     []byte
}

func (p *execProcess) appendStderr(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tail = append(p.tail, line...)
	p.tail = append(p.tail, '\n')
	if over := len(p.tail) - stderrTailLimit; over > 0 {
		p.tail = p.tail[over:]
	}
}

func (p *execProcess) Terminate() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Signal(syscall.SIGTERM)
}

func (p *execProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

func (p *execProcess) StderrTail() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return string(p.tail)
}
