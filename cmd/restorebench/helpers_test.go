package main

import (
	"bytes"
	"strings"
	"testing"

	"restorebench/internal/config"
	"restorebench/internal/testsupport"
)

type cliEnv struct {
	cfg        *config.Config
	configPath string
}

func setupCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	cfg := testsupport.NewConfig(t)
	testsupport.WriteDataset(t, cfg, testsupport.ScenarioIDs...)
	return &cliEnv{cfg: cfg, configPath: testsupport.WriteConfigFile(t, cfg)}
}

func (e *cliEnv) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	return runCLI(t, append([]string{"--config", e.configPath}, args...))
}

func runCLI(t *testing.T, args []string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected output to contain %q\n%s", substr, output)
	}
}
