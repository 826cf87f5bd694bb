package main

import (
	"bytes"
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/KevinKickass/OpenMatrixCore/internal/auth"
	"github.com/KevinKickass/OpenMatrixCore/internal/extron/extrontest"
)

func startSwitcher(t *testing.T) *extrontest.Server {
	t.Helper()
	srv, err := extrontest.NewServer(4, 2)
	if err != nil {
		t.Fatalf("failed to start switcher: %v", err)
	}
	t.Cleanup(func() { srv.Close() })
	return srv
}

func switcherArgs(srv *extrontest.Server, cmd ...string) []string {
	args := []string{
		"--host", srv.Host(),
		"--port", strconv.Itoa(srv.Port()),
		"--inputs", "4",
		"--outputs", "2",
	}
	return append(args, cmd...)
}

func TestRouteCommand(t *testing.T) {
	srv := startSwitcher(t)

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), switcherArgs(srv, "route", "2", "3"), nil, &stdout, &stderr)
	if err != nil {
		t.Fatalf("route failed: %v", err)
	}
	if got := srv.Route(2); got != 3 {
		t.Errorf("switcher output 2 = %d, want 3", got)
	}
	if got := stdout.String(); got != "Output 2: Input 3\n" {
		t.Errorf("stdout = %q", got)
	}
}

func TestQueryAndStatusCommands(t *testing.T) {
	srv := startSwitcher(t)
	srv.SetRoute(1, 4)

	var stdout bytes.Buffer
	if err := run(context.Background(), switcherArgs(srv, "query", "1"), nil, &stdout, &bytes.Buffer{}); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if got := strings.TrimSpace(stdout.String()); got != "4" {
		t.Errorf("query = %q, want 4", got)
	}

	stdout.Reset()
	if err := run(context.Background(), switcherArgs(srv, "status"), nil, &stdout, &bytes.Buffer{}); err != nil {
		t.Fatalf("status failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("status printed %d lines, want 2:\n%s", len(lines), stdout.String())
	}
	if !strings.Contains(lines[0], "Input 4") {
		t.Errorf("output 1 line = %q, want Input 4", lines[0])
	}
	if !strings.Contains(lines[1], "None") {
		t.Errorf("output 2 line = %q, want None", lines[1])
	}
}

func TestInfoCommand(t *testing.T) {
	srv := startSwitcher(t)

	var stdout bytes.Buffer
	if err := run(context.Background(), switcherArgs(srv, "info"), nil, &stdout, &bytes.Buffer{}); err != nil {
		t.Fatalf("info failed: %v", err)
	}
	if got := strings.TrimSpace(stdout.String()); got != "video 4x2 audio 4x2" {
		t.Errorf("info = %q", got)
	}
}

func TestCommandErrors(t *testing.T) {
	srv := startSwitcher(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no command", switcherArgs(srv), "missing command"},
		{"unknown command", switcherArgs(srv, "explode"), "unknown command"},
		{"route arity", switcherArgs(srv, "route", "1"), "expected <output> <input>"},
		{"route not a number", switcherArgs(srv, "route", "x", "1"), "not a number"},
		{"route out of range", switcherArgs(srv, "route", "1", "9"), "out of range"},
		{"missing host", []string{"--inputs", "4", "--outputs", "2", "status"}, "host is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(context.Background(), tt.args, nil, &bytes.Buffer{}, &bytes.Buffer{})
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to contain %q", err, tt.want)
			}
		})
	}

	for _, line := range srv.Received() {
		if strings.HasSuffix(line, "!") {
			t.Errorf("switcher received tie %q from a rejected command", line)
		}
	}
}

func TestHashPasswordCommand(t *testing.T) {
	var stdout bytes.Buffer
	err := run(context.Background(), []string{"hash-password"}, strings.NewReader("s3cret\n"), &stdout, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("hash-password failed: %v", err)
	}

	ok, err := auth.NewPasswordHasher().VerifyPassword("s3cret", strings.TrimSpace(stdout.String()))
	if err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if !ok {
		t.Error("printed hash does not verify")
	}

	if err := run(context.Background(), []string{"hash-password"}, strings.NewReader("\n"), &stdout, &bytes.Buffer{}); err == nil {
		t.Error("expected error for empty password")
	}
}
