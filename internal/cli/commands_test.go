package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/unisync/internal/screens"
	"github.com/roach88/unisync/internal/unit"
)

const appCUE = `package app

screen: main: {
	name: "Main"
	blocks: [{
		name: "Inputs"
		elements: [
			{name: "city", value: ""},
			{name: "greet", type: "command", on: changed: "greet"},
		]
	}]
}
`

const passing = `name: greet
screen: Main
steps:
  - request: {block: Inputs, element: city, event: changed, value: Paris}
    expect: null
  - request: {block: Inputs, element: greet, event: changed, value: null}
    expect: {type: info, value: Hello}
`

const failing = `name: wrong
steps:
  - request: {block: Inputs, element: greet, event: changed, value: null}
    expect: {type: info, value: Bye}
`

func greetActions() screens.Actions {
	return screens.Actions{
		"greet": func(context.Context, *unit.Node, any) (unit.Result, error) {
			return unit.Info("Hello"), nil
		},
	}
}

// app writes the screens and scenarios directories of a small greeter app.
func app(t *testing.T, scenarios map[string]string) (screensDir, autotestDir string) {
	t.Helper()
	root := t.TempDir()
	screensDir = filepath.Join(root, "screens")
	autotestDir = filepath.Join(root, "autotest")
	require.NoError(t, os.MkdirAll(screensDir, 0o755))
	require.NoError(t, os.MkdirAll(autotestDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(screensDir, "app.cue"), []byte(appCUE), 0o644))
	for name, content := range scenarios {
		require.NoError(t, os.WriteFile(filepath.Join(autotestDir, name), []byte(content), 0o644))
	}
	return screensDir, autotestDir
}

func execute(t *testing.T, actions screens.Actions, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand(actions)
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCheckCommand_Valid(t *testing.T) {
	dir, _ := app(t, nil)

	out, err := execute(t, greetActions(), "check", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Main")
	assert.Contains(t, out, "All 1 screen(s) valid")
}

func TestCheckCommand_UnknownAction(t *testing.T) {
	dir, _ := app(t, nil)

	out, err := execute(t, nil, "check", dir, "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, ErrCodeInvalid, resp.Error.Code)
	assert.Contains(t, out, `unknown action \"greet\"`)
}

func TestCheckCommand_MissingDirectory(t *testing.T) {
	out, err := execute(t, nil, "check", filepath.Join(t.TempDir(), "none"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E003]")
}

func TestCheckCommand_ExplicitConfigMustExist(t *testing.T) {
	_, err := execute(t, nil, "check", "-c", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommand_Passes(t *testing.T) {
	screensDir, autotestDir := app(t, map[string]string{"greet.yaml": passing})

	out, err := execute(t, greetActions(), "test", "--screens", screensDir, "--dir", autotestDir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ greet")
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")
}

func TestTestCommand_ReportsFailures(t *testing.T) {
	screensDir, autotestDir := app(t, map[string]string{"greet.yaml": passing, "wrong.yaml": failing})

	out, err := execute(t, greetActions(), "test", "--screens", screensDir, "--dir", autotestDir, "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
		Error  *CLIError  `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, ErrCodeMismatch, resp.Error.Code)
	assert.Equal(t, 1, resp.Data.Passed)
	assert.Equal(t, 1, resp.Data.Failed)
	require.Len(t, resp.Data.Scenarios, 2)
	assert.Equal(t, "wrong", resp.Data.Scenarios[1].Name)
	assert.NotEmpty(t, resp.Data.Scenarios[1].Errors)
}

func TestTestCommand_NamedScenario(t *testing.T) {
	screensDir, autotestDir := app(t, map[string]string{"greet.yaml": passing, "wrong.yaml": failing})

	out, err := execute(t, greetActions(), "test", "greet.yaml", "--screens", screensDir, "--dir", autotestDir)
	require.NoError(t, err)
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")
}

func TestTestCommand_ConfiguredScenarios(t *testing.T) {
	screensDir, autotestDir := app(t, map[string]string{"greet.yaml": passing, "wrong.yaml": failing})
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	cfg := "screens_dir: " + screensDir + "\nautotest_dir: " + autotestDir + "\nautotest: greet.yaml\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))

	out, err := execute(t, greetActions(), "test", "-c", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ greet")
	assert.NotContains(t, out, "wrong")
}
