package progtest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/progtest/reporting"
	"github.com/ethereum-optimism/infra/progtest/types"
)

// The fake launcher inspects the source for markers and emits the source
// itself as "assembly"; the fake linker turns that into a shell script
// exiting 0, or 3 for exec-fail sources.
const fakeLauncherScript = `src="$1"
name=$(basename "$src")
if grep -q interp-fail "$src"; then exit 1; fi
if grep -q hang "$src"; then sleep 10; fi
if grep -q no-asm "$src"; then exit 0; fi
cp "$src" "tmp/$name.s"
`

const fakeLinkerScript = `asm="$1"
out="$3"
if grep -q link-fail "$asm"; then exit 1; fi
code=0
if grep -q exec-fail "$asm"; then code=3; fi
printf '#!/bin/sh\nexit %d\n' "$code" > "$out"
chmod +x "$out"
`

type fixture struct {
	project string
	cfg     *Config
	stdout  *bytes.Buffer
	stderr  *bytes.Buffer
}

func writeScript(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
}

func writeToolchainArchive(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := zip.NewWriter(f)
	hdr := &zip.FileHeader{
		Name:     "toolchain/bin/launcher",
		Method:   zip.Deflate,
		Modified: time.Now().Truncate(time.Second),
	}
	hdr.SetMode(0o755)
	fw, err := w.CreateHeader(hdr)
	require.NoError(t, err)
	_, err = fw.Write([]byte("#!/bin/sh\n" + fakeLauncherScript))
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func newFixture(t *testing.T, sources map[string]string) *fixture {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake toolchain requires a POSIX shell")
	}

	project := t.TempDir()
	writeToolchainArchive(t, filepath.Join(project, "dist", "toolchain.zip"))
	linker := filepath.Join(project, "fake-cc")
	writeScript(t, linker, fakeLinkerScript)

	testsDir := filepath.Join(project, "programs", "source")
	require.NoError(t, os.MkdirAll(testsDir, 0o755))
	for name, body := range sources {
		require.NoError(t, os.WriteFile(filepath.Join(testsDir, name), []byte(body+"\n"), 0o644))
	}

	fx := &fixture{
		project: project,
		stdout:  &bytes.Buffer{},
		stderr:  &bytes.Buffer{},
	}
	fx.cfg = &Config{
		ProjectDir:   project,
		TestsDir:     testsDir,
		Suffix:       ".prog",
		ScratchDir:   filepath.Join(project, "tmp"),
		BuildCommand: []string{"sh", "-c", "touch built"},
		Archive:      filepath.Join(project, "dist", "toolchain.zip"),
		Launcher:     "toolchain/bin/launcher",
		Linker:       []string{linker},
		Timeout:      5 * time.Second,
		Concurrency:  1,
		RunOnce:      true,
		Stdout:       fx.stdout,
		Stderr:       fx.stderr,
		Log:          log.NewLogger(log.DiscardHandler()),
	}
	return fx
}

func (fx *fixture) source(name string) string {
	return filepath.Join(fx.cfg.TestsDir, name)
}

var mixedSources = map[string]string{
	"pass_one.prog":    "ok",
	"pass_two.prog":    "ok",
	"fail_interp.prog": "interp-fail",
	"fail_noasm.prog":  "no-asm",
	"fail_link.prog":   "link-fail",
	"fail_exec.prog":   "exec-fail",
}

func outcomes(h *harness) map[string]types.Outcome {
	out := make(map[string]types.Outcome)
	for _, res := range h.result.Results {
		out[res.Case.Name] = res.Outcome
	}
	return out
}

func TestNewValidation(t *testing.T) {
	_, err := New(context.Background(), nil, "test", nil)
	require.Error(t, err)
	_, err = New(context.Background(), &Config{}, "test", nil)
	require.Error(t, err)
}

func TestHarnessRunOnceReportsFailures(t *testing.T) {
	fx := newFixture(t, mixedSources)
	h, err := New(context.Background(), fx.cfg, "test", nil)
	require.NoError(t, err)

	err = h.Start(context.Background())
	require.Error(t, err)
	assert.True(t, IsTestFailureError(err))
	assert.Contains(t, err.Error(), "4 of 6 tests failed")
	var failure *TestFailureError
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, 6, failure.Total)
	assert.Len(t, failure.Failed, 4)
	assert.True(t, h.Stopped())

	assert.FileExists(t, filepath.Join(fx.project, "built"))
	assert.Equal(t, map[string]types.Outcome{
		"pass_one.prog":    types.Pass(),
		"pass_two.prog":    types.Pass(),
		"fail_interp.prog": types.FailedAt(types.StageInterpret),
		"fail_noasm.prog":  types.FailedAt(types.StageLink),
		"fail_link.prog":   types.FailedAt(types.StageLink),
		"fail_exec.prog":   types.FailedAt(types.StageExecute),
	}, outcomes(h))

	expected := strings.Join([]string{
		reporting.FailedTestsHeader,
		fx.source("fail_exec.prog"),
		fx.source("fail_interp.prog"),
		fx.source("fail_link.prog"),
		fx.source("fail_noasm.prog"),
	}, "\n") + "\n"
	assert.Equal(t, expected, fx.stderr.String())
	assert.NotContains(t, fx.stdout.String(), reporting.AllPassedMessage)

	// artifacts are named after the source base name
	assert.FileExists(t, filepath.Join(fx.cfg.ScratchDir, "pass_one.prog.s"))
	assert.FileExists(t, filepath.Join(fx.cfg.ScratchDir, "pass_one.prog.out"))
	assert.NoFileExists(t, filepath.Join(fx.cfg.ScratchDir, "fail_interp.prog.s"))
}

func TestHarnessAllPassWithPattern(t *testing.T) {
	fx := newFixture(t, mixedSources)
	fx.cfg.Pattern = "pass_"

	shutdown := make(chan error, 1)
	h, err := New(context.Background(), fx.cfg, "test", func(err error) { shutdown <- err })
	require.NoError(t, err)

	require.NoError(t, h.Start(context.Background()))
	select {
	case err := <-shutdown:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown callback not invoked")
	}

	assert.Equal(t, 2, h.result.Stats.Total)
	assert.Equal(t, types.TestStatusPass, h.result.Status)
	assert.Equal(t, reporting.AllPassedMessage+"\n", fx.stdout.String())
	assert.Empty(t, fx.stderr.String())
	require.NoError(t, h.Stop(context.Background()))
	assert.True(t, h.Stopped())
}

func TestHarnessEmptySelectionPasses(t *testing.T) {
	fx := newFixture(t, mixedSources)
	fx.cfg.Pattern = "no-such-test"
	h, err := New(context.Background(), fx.cfg, "test", nil)
	require.NoError(t, err)

	require.NoError(t, h.Start(context.Background()))
	assert.Equal(t, 0, h.result.Stats.Total)
	assert.Equal(t, reporting.AllPassedMessage+"\n", fx.stdout.String())
}

func TestHarnessBuildFailureIsFatal(t *testing.T) {
	fx := newFixture(t, mixedSources)
	fx.cfg.BuildCommand = []string{"sh", "-c", "exit 1"}
	h, err := New(context.Background(), fx.cfg, "test", nil)
	require.NoError(t, err)

	err = h.Start(context.Background())
	require.Error(t, err)
	assert.True(t, IsRuntimeError(err))
	assert.False(t, IsTestFailureError(err))
	assert.Nil(t, h.result)
	assert.NoDirExists(t, fx.cfg.ScratchDir)
	assert.NoDirExists(t, filepath.Join(fx.project, "toolchain"))
	assert.Empty(t, fx.stderr.String())
}

func TestHarnessMissingTestsDirIsFatal(t *testing.T) {
	fx := newFixture(t, nil)
	fx.cfg.TestsDir = filepath.Join(fx.project, "missing")
	h, err := New(context.Background(), fx.cfg, "test", nil)
	require.NoError(t, err)

	err = h.Start(context.Background())
	require.Error(t, err)
	assert.True(t, IsRuntimeError(err))
	assert.NoDirExists(t, fx.cfg.ScratchDir)
}

func TestHarnessStageTimeout(t *testing.T) {
	fx := newFixture(t, map[string]string{
		"hang.prog": "hang",
		"ok.prog":   "ok",
	})
	fx.cfg.Timeout = 300 * time.Millisecond
	h, err := New(context.Background(), fx.cfg, "test", nil)
	require.NoError(t, err)

	start := time.Now()
	err = h.Start(context.Background())
	require.Error(t, err)
	assert.True(t, IsTestFailureError(err))
	assert.Less(t, time.Since(start), 8*time.Second)

	got := outcomes(h)
	assert.Equal(t, types.FailedAt(types.StageInterpret), got["hang.prog"])
	assert.Equal(t, types.Pass(), got["ok.prog"])

	res := h.result.Results[0]
	require.Equal(t, "hang.prog", res.Case.Name)
	sr, ok := res.FailedStageResult()
	require.True(t, ok)
	assert.True(t, sr.TimedOut)
}

func TestHarnessRunsAreIdempotent(t *testing.T) {
	fx := newFixture(t, mixedSources)
	h, err := New(context.Background(), fx.cfg, "test", nil)
	require.NoError(t, err)

	require.NoError(t, h.runTests(context.Background()))
	first := h.result.Failed()
	firstID := h.result.RunID
	require.NoError(t, h.runTests(context.Background()))
	assert.Equal(t, first, h.result.Failed())
	assert.NotEqual(t, firstID, h.result.RunID)
}

func TestHarnessParallelMatchesSerial(t *testing.T) {
	fx := newFixture(t, mixedSources)
	fx.cfg.Concurrency = 3
	h, err := New(context.Background(), fx.cfg, "test", nil)
	require.NoError(t, err)

	require.NoError(t, h.runTests(context.Background()))
	assert.True(t, h.result.IsParallel)
	assert.Equal(t, 6, h.result.Stats.Total)
	assert.Equal(t, 4, h.result.Stats.Failed)

	var failed []string
	for _, tc := range h.result.Failed() {
		failed = append(failed, tc.Name)
	}
	assert.Equal(t, []string{"fail_exec.prog", "fail_interp.prog", "fail_link.prog", "fail_noasm.prog"}, failed)
}

func TestHarnessReportFileAndTestLogs(t *testing.T) {
	fx := newFixture(t, map[string]string{"pass_one.prog": "ok", "fail_exec.prog": "exec-fail"})
	fx.cfg.ReportFile = filepath.Join(fx.project, "out", "report.json")
	fx.cfg.LogDir = filepath.Join(fx.project, "logs")
	fx.cfg.SummaryTable = true
	h, err := New(context.Background(), fx.cfg, "test", nil)
	require.NoError(t, err)

	require.NoError(t, h.runTests(context.Background()))

	data, err := os.ReadFile(fx.cfg.ReportFile)
	require.NoError(t, err)
	var report reporting.Report
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, h.result.RunID, report.RunID)
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 1, report.Failed)

	logPath := filepath.Join(fx.cfg.LogDir, "testrun-"+h.result.RunID, "pass_one.prog.log")
	assert.FileExists(t, logPath)
	assert.Contains(t, strings.ToUpper(fx.stdout.String()), "TOTAL 2 (1 PASSED, 1 FAILED)")
}

func TestHarnessContinuousMode(t *testing.T) {
	fx := newFixture(t, map[string]string{"pass_one.prog": "ok"})
	fx.cfg.RunOnce = false
	fx.cfg.RunInterval = 50 * time.Millisecond
	fx.cfg.BuildCommand = nil
	h, err := New(context.Background(), fx.cfg, "test", nil)
	require.NoError(t, err)

	require.NoError(t, h.Start(context.Background()))
	assert.False(t, h.Stopped())
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, h.Stop(context.Background()))
	assert.True(t, h.Stopped())
	require.NoError(t, h.Stop(context.Background()))

	assert.GreaterOrEqual(t, strings.Count(fx.stdout.String(), reporting.AllPassedMessage), 2)
}
