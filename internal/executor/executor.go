package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/cwrk-planet/code-room/internal/domain"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

const (
	// Timeout is the wall-clock budget for a whole invocation, compile included.
	Timeout = 10 * time.Second

	waitDelay      = 500 * time.Millisecond
	maxStreamBytes = 1 << 20

	msgTimeout     = "Code execution timed out (10 seconds limit)"
	msgUnsupported = "Unsupported language"
)

type Toolchain struct {
	Node   string
	Python string
	Javac  string
	Java   string
	Gxx    string
}

func DefaultToolchain() Toolchain {
	return Toolchain{
		Node:   "node",
		Python: "python3",
		Javac:  "javac",
		Java:   "java",
		Gxx:    "g++",
	}
}

type Options struct {
	WorkDir       string
	MaxConcurrent int64
	Toolchain     Toolchain

	// Timeout overrides the invocation budget; zero means Timeout.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Executor runs snippets in short-lived child processes. It keeps no state
// between invocations besides the concurrency bound.
type Executor struct {
	workDir string
	timeout time.Duration
	tools   Toolchain
	sem     *semaphore.Weighted
	log     *slog.Logger
}

func New(opts Options) (*Executor, error) {
	workDir := opts.WorkDir
	if workDir == "" {
		workDir = filepath.Join(os.TempDir(), "code-room")
	}
	if err := os.MkdirAll(workDir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: prepare work dir: %v", domain.ErrWorkspace, err)
	}

	tools := mergeToolchain(opts.Toolchain, DefaultToolchain())

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = Timeout
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	e := &Executor{
		workDir: workDir,
		timeout: timeout,
		tools:   tools,
		log:     log.With("component", "executor"),
	}
	if opts.MaxConcurrent > 0 {
		e.sem = semaphore.NewWeighted(opts.MaxConcurrent)
	}
	return e, nil
}

func mergeToolchain(tc, def Toolchain) Toolchain {
	if tc.Node == "" {
		tc.Node = def.Node
	}
	if tc.Python == "" {
		tc.Python = def.Python
	}
	if tc.Javac == "" {
		tc.Javac = def.Javac
	}
	if tc.Java == "" {
		tc.Java = def.Java
	}
	if tc.Gxx == "" {
		tc.Gxx = def.Gxx
	}
	return tc
}

// Available reports which languages have their binaries on PATH.
func (e *Executor) Available() map[domain.Language]bool {
	has := func(bins ...string) bool {
		for _, b := range bins {
			if _, err := exec.LookPath(b); err != nil {
				return false
			}
		}
		return true
	}
	return map[domain.Language]bool{
		domain.LangJavaScript: has(e.tools.Node),
		domain.LangPython:     has(e.tools.Python),
		domain.LangJava:       has(e.tools.Javac, e.tools.Java),
		domain.LangCpp:        has(e.tools.Gxx),
	}
}

// Run executes code and always returns a result; failures are encoded in
// Kind and Error rather than returned.
func (e *Executor) Run(ctx context.Context, code string, lang domain.Language) domain.RunResult {
	id := uuid.NewString()
	start := time.Now()

	res := e.run(ctx, id, code, lang)
	res.ID = id
	res.Duration = time.Since(start)

	e.log.Debug("executor.run",
		"run_id", id,
		"language", string(lang),
		"kind", string(res.Kind),
		"dur_ms", res.Duration.Milliseconds())
	return res
}

func (e *Executor) run(ctx context.Context, id, code string, lang domain.Language) domain.RunResult {
	if !lang.Supported() {
		return domain.RunResult{Kind: domain.RunUnsupported, Error: msgUnsupported}
	}

	// the budget covers waiting for a slot as well as compile and run
	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if e.sem != nil {
		if err := e.sem.Acquire(runCtx, 1); err != nil {
			if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
				return domain.RunResult{Kind: domain.RunTimeout, Error: msgTimeout}
			}
			return systemResult(fmt.Errorf("%w: waiting for slot: %v", domain.ErrSpawn, err))
		}
		defer e.sem.Release(1)
	}

	dir, err := os.MkdirTemp(e.workDir, "run-"+id+"-")
	if err != nil {
		return systemResult(fmt.Errorf("%w: %v", domain.ErrWorkspace, err))
	}
	defer e.cleanup(dir)

	p, err := materialize(dir, code, lang, e.tools)
	if err != nil {
		return systemResult(err)
	}

	stdout := &cappedBuffer{limit: maxStreamBytes}
	stderr := &cappedBuffer{limit: maxStreamBytes}

	for _, s := range p.steps {
		err := e.runStep(runCtx, dir, s, stdout, stderr)
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return domain.RunResult{Kind: domain.RunTimeout, Error: msgTimeout}
		}
		if err == nil {
			continue
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && runCtx.Err() == nil {
			errText := stderr.String()
			if errText == "" {
				errText = exitErr.Error()
			}
			return domain.RunResult{Kind: domain.RunExit, Output: stdout.String(), Error: errText}
		}
		return systemResult(fmt.Errorf("%w: %v", domain.ErrSpawn, err))
	}

	return domain.RunResult{Kind: domain.RunOK, Output: stdout.String(), Error: stderr.String()}
}

// runStep runs one process and then kills whatever is left of its process
// group. A zero exit whose descendants kept the output pipes open past
// waitDelay counts as a normal exit with the output captured so far.
func (e *Executor) runStep(ctx context.Context, dir string, s step, stdout, stderr *cappedBuffer) error {
	cmd := e.command(ctx, dir, s, stdout, stderr)
	err := cmd.Run()
	if cmd.Process != nil {
		_ = killProcessGroup(cmd)
	}
	if errors.Is(err, exec.ErrWaitDelay) {
		return nil
	}
	return err
}

func (e *Executor) command(ctx context.Context, dir string, s step, stdout, stderr *cappedBuffer) *exec.Cmd {
	cmd := exec.CommandContext(ctx, s.argv[0], s.argv[1:]...)
	cmd.Dir = dir
	cmd.Env = childEnv(dir)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	setProcAttrs(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = waitDelay
	return cmd
}

func childEnv(dir string) []string {
	return []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + dir,
		"TMPDIR=" + dir,
		"LANG=C.UTF-8",
		"PYTHONDONTWRITEBYTECODE=1",
	}
}

func (e *Executor) cleanup(dir string) {
	if err := os.RemoveAll(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		e.log.Warn("executor.cleanup failed", "dir", dir, "err", err)
	}
}

func systemResult(err error) domain.RunResult {
	msg := err.Error()
	if errors.Is(err, domain.ErrWorkspace) {
		msg = "File system error: " + msg
	}
	return domain.RunResult{Kind: domain.RunSystem, Error: msg}
}

// cappedBuffer keeps the first limit bytes and silently discards the rest so
// a chatty program cannot grow server memory without bound.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	room := b.limit - b.buf.Len()
	if room <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) String() string {
	if b.truncated {
		return b.buf.String() + "\n[output truncated]"
	}
	return b.buf.String()
}
