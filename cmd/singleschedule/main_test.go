package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"singleschedule/internal/app"
	"singleschedule/internal/task"
)

func run(t *testing.T, home string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--home", home}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestAddListStopRemove(t *testing.T) {
	home := t.TempDir()

	out, err := run(t, home, "add", "--slug", "report", "--cron", "0 0 8 * * MON", "--inactive", "--", "/usr/bin/report", "-v")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !strings.Contains(out, "added report") {
		t.Fatalf("add output = %q", out)
	}

	out, err = run(t, home, "list", "--json")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var entries []listEntry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("decode list: %v\n%s", err, out)
	}
	if len(entries) != 1 || entries[0].Slug != "report" || entries[0].Active {
		t.Fatalf("entries = %+v", entries)
	}
	if argv := entries[0].Command.Argv(); len(argv) != 2 || argv[1] != "-v" {
		t.Fatalf("argv = %v", argv)
	}
	if entries[0].NextRun != nil {
		t.Fatal("inactive task should have no next run")
	}

	out, err = run(t, home, "list")
	if err != nil {
		t.Fatalf("list table: %v", err)
	}
	if !strings.Contains(out, "SLUG") || !strings.Contains(out, "never") {
		t.Fatalf("table = %q", out)
	}

	if out, err = run(t, home, "stop", "report"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if strings.Contains(out, "daemon") {
		t.Fatalf("stop touched the daemon: %q", out)
	}

	if _, err := run(t, home, "remove", "--slug", "report"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	out, _ = run(t, home, "list")
	if !strings.Contains(out, "no tasks") {
		t.Fatalf("list after remove = %q", out)
	}
}

func TestCommandErrors(t *testing.T) {
	home := t.TempDir()
	if _, err := run(t, home, "add", "--slug", "x", "--cron", "* * * * * *", "--inactive", "--", "true"); err != nil {
		t.Fatalf("add: %v", err)
	}

	cases := []struct {
		name string
		args []string
		want string
		is   error
	}{
		{name: "duplicate", args: []string{"add", "--slug", "x", "--cron", "* * * * * *", "--inactive", "--", "true"}, is: task.ErrDuplicateSlug},
		{name: "bad cron", args: []string{"add", "--slug", "y", "--cron", "61 * * * * *", "--", "true"}, want: "invalid cron expression at field 1"},
		{name: "unknown slug", args: []string{"stop", "x", "nope"}, is: task.ErrNotFound},
		{name: "slugs and all", args: []string{"stop", "x", "--all"}, want: "either slugs or --all"},
		{name: "remove missing", args: []string{"remove", "--slug", "nope"}, is: task.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := run(t, home, tc.args...)
			if err == nil {
				t.Fatal("expected error")
			}
			if tc.is != nil && !errors.Is(err, tc.is) {
				t.Fatalf("err = %v, want %v", err, tc.is)
			}
			if tc.want != "" && !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %q, want %q", err, tc.want)
			}
		})
	}
}

func TestBareStopAndShorthands(t *testing.T) {
	home := t.TempDir()
	if _, err := run(t, home, "add", "-s", "a", "-c", "0 0 * * * *", "--inactive", "--", "true"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := run(t, home, "add", "-s", "b", "-c", "0 0 * * * *", "--inactive", "--", "true"); err != nil {
		t.Fatalf("add: %v", err)
	}
	// Flip b on without the CLI so no daemon is spawned.
	a, err := app.New(app.Options{Home: home, Executable: "/bin/false"})
	if err != nil {
		t.Fatalf("open app: %v", err)
	}
	if _, err := a.SetActive(context.Background(), []string{"b"}, true); err != nil {
		t.Fatalf("set active: %v", err)
	}
	_ = a.Close()

	out, err := run(t, home, "stop")
	if err != nil {
		t.Fatalf("bare stop: %v", err)
	}
	if !strings.Contains(out, "daemon not running") {
		t.Fatalf("bare stop output = %q", out)
	}
	out, _ = run(t, home, "list", "--json")
	var entries []listEntry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("decode list: %v\n%s", err, out)
	}
	if len(entries) != 2 || entries[0].Active || !entries[1].Active {
		t.Fatalf("bare stop changed active flags: %+v", entries)
	}

	if _, err := run(t, home, "stop", "-a"); err != nil {
		t.Fatalf("stop -a: %v", err)
	}
	if _, err := run(t, home, "remove", "-s", "a"); err != nil {
		t.Fatalf("remove -s: %v", err)
	}
}

func TestStatusWithoutDaemon(t *testing.T) {
	home := t.TempDir()
	out, err := run(t, home, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "daemon:  stopped") || !strings.Contains(out, "0 total") {
		t.Fatalf("status = %q", out)
	}
}
