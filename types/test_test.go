package types

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTestCase(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "ok.prog")
	require.NoError(t, os.WriteFile(src, []byte("print 1"), 0o644))

	tc := NewTestCase(src)
	assert.Equal(t, src, tc.Source)
	assert.Equal(t, "ok.prog", tc.Name)
	assert.Equal(t, src, tc.String())
}

func TestNewTestCaseResolvesSymlinks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	dir := t.TempDir()
	target := filepath.Join(dir, "real.prog")
	require.NoError(t, os.WriteFile(target, []byte("print 1"), 0o644))
	link := filepath.Join(dir, "alias.prog")
	require.NoError(t, os.Symlink(target, link))

	tc := NewTestCase(link)
	assert.Equal(t, link, tc.Source)
	assert.Equal(t, "real.prog", tc.Name)
}

func TestNewTestCaseMissingFile(t *testing.T) {
	tc := NewTestCase(filepath.Join("nowhere", "gone.prog"))
	assert.Equal(t, "gone.prog", tc.Name)
}

func TestOutcome(t *testing.T) {
	assert.True(t, Pass().Passed())
	assert.True(t, Outcome{}.Passed())
	assert.Equal(t, "pass", Pass().String())

	for _, stage := range Stages {
		o := FailedAt(stage)
		assert.False(t, o.Passed())
		assert.Equal(t, stage, o.FailedStage)
		assert.Equal(t, "failed at "+string(stage), o.String())
	}
}

func TestStageResultDetail(t *testing.T) {
	tests := []struct {
		name   string
		result StageResult
		passed bool
		detail string
	}{
		{name: "success", result: StageResult{}, passed: true, detail: ""},
		{name: "exit code", result: StageResult{ExitCode: 3}, detail: "exit code 3"},
		{name: "timeout", result: StageResult{TimedOut: true, ExitCode: -1, Duration: 3 * time.Second}, detail: "timed out after 3s"},
		{name: "launch error", result: StageResult{ExitCode: -1, Err: errors.New("no such file")}, detail: "no such file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.passed, tt.result.Passed())
			assert.Equal(t, tt.detail, tt.result.Detail())
		})
	}
}

func TestTestResultStatus(t *testing.T) {
	passed := &TestResult{Outcome: Pass()}
	assert.Equal(t, TestStatusPass, passed.Status())
	_, ok := passed.FailedStageResult()
	assert.False(t, ok)

	failed := &TestResult{
		Outcome: FailedAt(StageLink),
		Stages: []StageResult{
			{Stage: StageInterpret},
			{Stage: StageLink, ExitCode: 1},
		},
	}
	assert.Equal(t, TestStatusFail, failed.Status())
	sr, ok := failed.FailedStageResult()
	require.True(t, ok)
	assert.Equal(t, StageLink, sr.Stage)
	assert.Equal(t, 1, sr.ExitCode)
}
