package main

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stdout failed: %v", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stderr failed: %v", err)
	}

	os.Stdout = stdoutW
	os.Stderr = stderrW

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdoutBytes, _ := io.ReadAll(stdoutR)
	stderrBytes, _ := io.ReadAll(stderrR)

	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, string(stdoutBytes), string(stderrBytes)
}

func TestRunCLINoArgs(t *testing.T) {
	code, _, _ := captureOutputWithExitCode(t, func() int {
		return runCLI(nil)
	})
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
}

func TestRunCLIUnknownCommand(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"bogus"})
	})
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "Unknown command: bogus") {
		t.Fatalf("stderr = %q", stderr)
	}
}

func TestRunCLIHelp(t *testing.T) {
	for _, token := range []string{"help", "--help", "-h"} {
		code, stdout, _ := captureOutputWithExitCode(t, func() int {
			return runCLI([]string{token})
		})
		if code != 0 {
			t.Fatalf("%s: exit code = %d, want 0", token, code)
		}
		if !strings.Contains(stdout, "Usage:") {
			t.Fatalf("%s: missing usage in %q", token, stdout)
		}
	}
}

func TestRunCLINounHelp(t *testing.T) {
	code, stdout, _ := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"system", "help"})
	})
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if !strings.Contains(stdout, "watch") {
		t.Fatalf("system help missing actions: %q", stdout)
	}

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config"})
	})
	if code != 1 {
		t.Fatalf("bare noun exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "check") {
		t.Fatalf("bare noun stderr = %q", stderr)
	}
}

func TestRunCLIUnknownNounAction(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "explode"})
	})
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "Unknown config action: explode") {
		t.Fatalf("stderr = %q", stderr)
	}
}

func TestRunVersionText(t *testing.T) {
	code, stdout, _ := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"version"})
	})
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if !strings.Contains(stdout, "actuation ") || !strings.Contains(stdout, "commit:") {
		t.Fatalf("stdout = %q", stdout)
	}
}

func TestRunVersionJSON(t *testing.T) {
	code, stdout, _ := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"version", "--json"})
	})
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}

	var info versionInfo
	if err := json.Unmarshal([]byte(stdout), &info); err != nil {
		t.Fatalf("version --json is not valid JSON: %v\n%s", err, stdout)
	}
	if info.Version == "" {
		t.Fatal("empty version")
	}
}

func TestRunVersionRejectsPositionalArgs(t *testing.T) {
	code, _, _ := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"version", "extra"})
	})
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
}

func TestRunConfigCheck(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "check"})
	})
	if code != 1 {
		t.Fatalf("missing --config exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "Usage:") {
		t.Fatalf("stderr = %q", stderr)
	}

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("service:\n  name: actuation\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	code, stdout, _ := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "check", "--config", configPath})
	})
	if code != 0 {
		t.Fatalf("valid config exit code = %d", code)
	}
	if !strings.Contains(stdout, "PASSED") {
		t.Fatalf("stdout = %q", stdout)
	}

	badPath := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(badPath, []byte("policy:\n  allowed_risk_levels: [catastrophic]\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	code, _, stderr = captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "check", "--config", badPath})
	})
	if code != 1 {
		t.Fatalf("invalid config exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "FAILED") {
		t.Fatalf("stderr = %q", stderr)
	}
}

func TestRunConfigLock(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("service:\n  name: actuation\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	code, stdout, _ := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "lock", "--config", configPath})
	})
	if code != 0 {
		t.Fatalf("exit code = %d: %s", code, stdout)
	}

	hashRe := regexp.MustCompile(`blake3: [0-9a-f]{64}`)
	if !hashRe.MatchString(stdout) {
		t.Fatalf("missing blake3 hash in %q", stdout)
	}
	if _, err := os.Stat(configPath + ".b3"); err != nil {
		t.Fatalf("checksum sidecar not written: %v", err)
	}

	// hash-update is the legacy alias.
	code, _, _ = captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "hash-update", "--config", configPath})
	})
	if code != 0 {
		t.Fatalf("hash-update exit code = %d", code)
	}
}

func TestRunConfigShow(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("service:\n  listen: \"127.0.0.1:9999\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	code, stdout, _ := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "show", "--config", configPath})
	})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stdout, "127.0.0.1:9999") {
		t.Fatalf("stdout = %q", stdout)
	}

	code, stdout, _ = captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "show", "--config", configPath, "--json"})
	})
	if code != 0 {
		t.Fatalf("json exit code = %d", code)
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(stdout), &parsed); err != nil {
		t.Fatalf("config show --json is not valid JSON: %v", err)
	}
}

func TestShortenCommit(t *testing.T) {
	if got := shortenCommit("abcdef0123456789abcdef"); got != "abcdef012345" {
		t.Fatalf("shortenCommit = %q", got)
	}
	if got := shortenCommit("abc123"); got != "abc123" {
		t.Fatalf("short input mangled: %q", got)
	}
}

func TestNormalizeBuildTimeUTC(t *testing.T) {
	if _, ok := normalizeBuildTimeUTC("unknown"); ok {
		t.Fatal("unknown should not normalize")
	}
	if _, ok := normalizeBuildTimeUTC("not-a-time"); ok {
		t.Fatal("garbage should not normalize")
	}
	got, ok := normalizeBuildTimeUTC("2026-08-30T12:00:00+02:00")
	if !ok || got != "2026-08-30T10:00:00Z" {
		t.Fatalf("normalize = %q, %v", got, ok)
	}
}
