package main

import (
	"bytes"
	"testing"
)

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	for _, name := range []string{"serve", "version", "doctor"} {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestVersionCmdPrintsBuildInfo(t *testing.T) {
	cmd := buildRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetArgs([]string{"version"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute version: %v", err)
	}
	if out.Len() == 0 {
		t.Fatal("expected version output")
	}
}

func TestDoctorCmdFailsWithoutAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPAL_DATA_DIR", t.TempDir())

	cmd := buildRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetArgs([]string{"doctor"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected doctor to fail without an API key")
	}
	if !bytes.Contains(out.Bytes(), []byte("ANTHROPIC_API_KEY")) {
		t.Fatalf("expected API key check in output, got: %s", out.String())
	}
}
