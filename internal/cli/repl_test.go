package cli

import (
	"bufio"
	"context"
	"strings"
	"testing"
)

type fakeExec struct {
	loggedIn bool
	calls    []string
	arg      string
}

func (f *fakeExec) isLoggedIn() bool { return f.loggedIn }
func (f *fakeExec) Login(ctx context.Context) error {
	f.calls = append(f.calls, "login")
	f.loggedIn = true
	return nil
}
func (f *fakeExec) AutoLogin(ctx context.Context) error {
	f.calls = append(f.calls, "autologin")
	f.loggedIn = true
	return nil
}
func (f *fakeExec) Logout(ctx context.Context) error {
	f.calls = append(f.calls, "logout")
	f.loggedIn = false
	return nil
}
func (f *fakeExec) Forget(ctx context.Context) error {
	f.calls = append(f.calls, "forget")
	return nil
}
func (f *fakeExec) Get(ctx context.Context, key string) error {
	f.calls = append(f.calls, "get")
	f.arg = key
	return nil
}
func (f *fakeExec) Set(ctx context.Context, key string, value []string) error {
	f.calls = append(f.calls, "set")
	f.arg = key + "=" + strings.Join(value, " ")
	return nil
}
func (f *fakeExec) Reset(ctx context.Context, key string) error {
	f.calls = append(f.calls, "reset")
	return nil
}
func (f *fakeExec) Keys(ctx context.Context) error {
	f.calls = append(f.calls, "keys")
	return nil
}
func (f *fakeExec) Notes(ctx context.Context) error {
	f.calls = append(f.calls, "notes")
	return nil
}
func (f *fakeExec) AddNote(ctx context.Context) error {
	f.calls = append(f.calls, "addnote")
	return nil
}
func (f *fakeExec) Copy(ctx context.Context) error {
	f.calls = append(f.calls, "copy")
	return nil
}
func (f *fakeExec) Devices(ctx context.Context) error {
	f.calls = append(f.calls, "devices")
	return nil
}
func (f *fakeExec) Trust(ctx context.Context, deviceID string) error {
	f.calls = append(f.calls, "trust")
	f.arg = deviceID
	return nil
}
func (f *fakeExec) Revoke(ctx context.Context, deviceID string) error {
	f.calls = append(f.calls, "revoke")
	return nil
}
func (f *fakeExec) Sync(ctx context.Context) error {
	f.calls = append(f.calls, "sync")
	return nil
}
func (f *fakeExec) Status(ctx context.Context) error {
	f.calls = append(f.calls, "status")
	return nil
}

func TestRunREPL_LoginFlowAndCommands(t *testing.T) {
	origPrint := printlnFn
	printlnFn = func(...any) (int, error) { return 0, nil }
	t.Cleanup(func() { printlnFn = origPrint })

	input := strings.NewReader(strings.Join([]string{
		"help",
		"login",
		"help",
		"set app_theme dark",
		"get app_theme",
		"addnote",
		"notes",
		"sync",
		"status",
		"foobar",
		"exit",
	}, "\n"))

	exec := &fakeExec{loggedIn: false}
	sc := bufio.NewScanner(input)

	runREPL(context.Background(), exec, func() string { return "status" }, sc)

	wantOrder := []string{"login", "set", "get", "addnote", "notes", "sync", "status"}
	if len(exec.calls) < len(wantOrder) {
		t.Fatalf("few calls: %+v", exec.calls)
	}
	idx := 0
	for _, c := range exec.calls {
		if idx < len(wantOrder) && c == wantOrder[idx] {
			idx++
		}
	}
	if idx != len(wantOrder) {
		t.Fatalf("commands order mismatch: got %v, want subseq %v", exec.calls, wantOrder)
	}
	if exec.arg != "app_theme" {
		t.Fatalf("last keyed arg = %q", exec.arg)
	}
}

func TestRunREPL_UsageAndQuit(t *testing.T) {
	origPrint := printlnFn
	printlnFn = func(...any) (int, error) { return 0, nil }
	t.Cleanup(func() { printlnFn = origPrint })

	input := strings.NewReader("get\nset app_theme\ntrust\nquit\n")
	exec := &fakeExec{loggedIn: true}
	sc := bufio.NewScanner(input)

	runREPL(context.Background(), exec, func() string { return "s" }, sc)

	if len(exec.calls) != 0 {
		t.Fatalf("unexpected calls: %v", exec.calls)
	}
}
