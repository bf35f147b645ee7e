package executor

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cwrk-planet/code-room/internal/domain"

	"github.com/stretchr/testify/require"
)

func newTestExecutor(t *testing.T, opts Options) (*Executor, string) {
	t.Helper()
	if opts.WorkDir == "" {
		opts.WorkDir = t.TempDir()
	}
	e, err := New(opts)
	require.NoError(t, err)
	return e, opts.WorkDir
}

func requireBinary(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not installed", name)
	}
}

func requireEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries, "artifacts left behind in %s", dir)
}

func TestRun_UnsupportedLanguage(t *testing.T) {
	req := require.New(t)
	e, dir := newTestExecutor(t, Options{})

	res := e.Run(context.Background(), "puts 1", domain.Language("ruby"))

	req.Equal(domain.RunUnsupported, res.Kind)
	req.Equal("Unsupported language", res.Error)
	req.Empty(res.Output)
	req.NotEmpty(res.ID)
	requireEmptyDir(t, dir)
}

func TestRun_SpawnFailureIsSystemError(t *testing.T) {
	req := require.New(t)
	e, dir := newTestExecutor(t, Options{
		Toolchain: Toolchain{Python: filepath.Join(t.TempDir(), "no-such-python")},
	})

	res := e.Run(context.Background(), "print(1)", domain.LangPython)

	req.Equal(domain.RunSystem, res.Kind)
	req.True(res.Failed())
	req.Empty(res.Output)
	req.NotEmpty(res.Error)
	requireEmptyDir(t, dir)
}

func TestRun_WorkspaceFailureIsReported(t *testing.T) {
	req := require.New(t)
	e, dir := newTestExecutor(t, Options{})

	req.NoError(os.RemoveAll(dir))
	req.NoError(os.WriteFile(dir, []byte("not a dir"), 0o600))
	t.Cleanup(func() { _ = os.Remove(dir) })

	res := e.Run(context.Background(), "print(1)", domain.LangPython)

	req.Equal(domain.RunSystem, res.Kind)
	req.True(strings.HasPrefix(res.Error, "File system error:"), res.Error)
}

func TestRun_PythonPrintsOutput(t *testing.T) {
	requireBinary(t, "python3")
	req := require.New(t)
	e, dir := newTestExecutor(t, Options{})

	res := e.Run(context.Background(), `print("Hello, World!")`, domain.LangPython)

	req.Equal(domain.RunOK, res.Kind)
	req.Equal("Hello, World!\n", res.Output)
	req.Empty(res.Error)
	requireEmptyDir(t, dir)
}

func TestRun_JavaScriptPrintsOutput(t *testing.T) {
	requireBinary(t, "node")
	req := require.New(t)
	e, dir := newTestExecutor(t, Options{})

	res := e.Run(context.Background(), `console.log("Hello, World!")`, domain.LangJavaScript)

	req.Equal(domain.RunOK, res.Kind)
	req.Equal("Hello, World!\n", res.Output)
	req.Empty(res.Error)
	requireEmptyDir(t, dir)
}

func TestRun_JavaWithoutPublicClass(t *testing.T) {
	requireBinary(t, "javac")
	requireBinary(t, "java")
	req := require.New(t)
	e, dir := newTestExecutor(t, Options{})

	code := `public static void main(String[] args) { System.out.println("Hello, World!"); }`
	res := e.Run(context.Background(), code, domain.LangJava)

	req.Equal(domain.RunOK, res.Kind, res.Error)
	req.Equal("Hello, World!\n", res.Output)
	requireEmptyDir(t, dir)
}

func TestRun_CppCompileAndRun(t *testing.T) {
	requireBinary(t, "g++")
	req := require.New(t)
	e, dir := newTestExecutor(t, Options{})

	code := "#include <iostream>\nint main(){ std::cout << \"Hello, World!\" << std::endl; }"
	res := e.Run(context.Background(), code, domain.LangCpp)

	req.Equal(domain.RunOK, res.Kind, res.Error)
	req.Equal("Hello, World!\n", res.Output)
	requireEmptyDir(t, dir)
}

func TestRun_StderrAloneIsNotFailure(t *testing.T) {
	requireBinary(t, "python3")
	req := require.New(t)
	e, _ := newTestExecutor(t, Options{})

	res := e.Run(context.Background(), "import sys\nprint('out')\nprint('warn', file=sys.stderr)", domain.LangPython)

	req.Equal(domain.RunOK, res.Kind)
	req.Equal("out\n", res.Output)
	req.Equal("warn\n", res.Error)
}

func TestRun_NonZeroExitKeepsOutput(t *testing.T) {
	requireBinary(t, "python3")
	req := require.New(t)
	e, dir := newTestExecutor(t, Options{})

	res := e.Run(context.Background(), "import sys\nprint('partial')\nsys.exit(3)", domain.LangPython)

	req.Equal(domain.RunExit, res.Kind)
	req.False(res.Failed())
	req.Equal("partial\n", res.Output)
	req.Contains(res.Error, "exit status 3")
	requireEmptyDir(t, dir)
}

func TestRun_TimeoutKillsProcessTree(t *testing.T) {
	requireBinary(t, "python3")
	requireBinary(t, "sleep")
	req := require.New(t)
	e, dir := newTestExecutor(t, Options{Timeout: 500 * time.Millisecond})

	code := "import subprocess\nsubprocess.run(['sleep', '30'])\nwhile True:\n    pass"
	start := time.Now()
	res := e.Run(context.Background(), code, domain.LangPython)
	elapsed := time.Since(start)

	req.Equal(domain.RunTimeout, res.Kind)
	req.Equal("Code execution timed out (10 seconds limit)", res.Error)
	req.Empty(res.Output)
	req.Less(elapsed, 500*time.Millisecond+waitDelay+time.Second)
	requireEmptyDir(t, dir)
}

func TestRun_ConcurrentInvocationsAreIsolated(t *testing.T) {
	requireBinary(t, "python3")
	req := require.New(t)
	e, dir := newTestExecutor(t, Options{MaxConcurrent: 4})

	const n = 8
	results := make([]domain.RunResult, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			code := "import os\nprint(len(os.listdir('.')))\nprint(" + string(rune('0'+i)) + ")"
			results[i] = e.Run(context.Background(), code, domain.LangPython)
		}(i)
	}
	wg.Wait()

	ids := map[string]bool{}
	for i, res := range results {
		req.Equal(domain.RunOK, res.Kind, res.Error)
		// each workspace holds only its own main.py
		req.Equal("1\n"+string(rune('0'+i))+"\n", res.Output)
		ids[res.ID] = true
	}
	req.Len(ids, n)
	requireEmptyDir(t, dir)
}

func TestAvailable_ReportsMissingToolchain(t *testing.T) {
	e, _ := newTestExecutor(t, Options{
		Toolchain: Toolchain{Gxx: filepath.Join(t.TempDir(), "missing-gxx")},
	})

	require.False(t, e.Available()[domain.LangCpp])
}

func TestRun_WaitForSlotCountsAgainstBudget(t *testing.T) {
	requireBinary(t, "python3")
	req := require.New(t)
	e, dir := newTestExecutor(t, Options{MaxConcurrent: 1, Timeout: time.Second})

	var wg sync.WaitGroup
	results := make([]domain.RunResult, 2)
	elapsed := make([]time.Duration, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			start := time.Now()
			results[i] = e.Run(context.Background(), "while True:\n    pass", domain.LangPython)
			elapsed[i] = time.Since(start)
		}(i)
	}
	wg.Wait()

	for i := range results {
		req.Equal(domain.RunTimeout, results[i].Kind, "run %d", i)
		req.Less(elapsed[i], time.Second+waitDelay+500*time.Millisecond, "run %d", i)
	}
	requireEmptyDir(t, dir)
}

func TestRun_ChildHoldingStdoutKeepsOutput(t *testing.T) {
	requireBinary(t, "python3")
	requireBinary(t, "sleep")
	req := require.New(t)
	e, dir := newTestExecutor(t, Options{})

	code := "import subprocess\nprint('hi', flush=True)\nsubprocess.Popen(['sleep', '3'])"
	start := time.Now()
	res := e.Run(context.Background(), code, domain.LangPython)

	req.Equal(domain.RunOK, res.Kind, res.Error)
	req.Equal("hi\n", res.Output)
	req.Less(time.Since(start), 3*time.Second)
	requireEmptyDir(t, dir)
}
