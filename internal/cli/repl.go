package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output.
var printlnFn = fmt.Println

// execIface defines the minimal command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a stub.
type execIface interface {
	isLoggedIn() bool
	Login(ctx context.Context) error
	AutoLogin(ctx context.Context) error
	Logout(ctx context.Context) error
	Forget(ctx context.Context) error
	Get(ctx context.Context, key string) error
	Set(ctx context.Context, key string, value []string) error
	Reset(ctx context.Context, key string) error
	Keys(ctx context.Context) error
	Notes(ctx context.Context) error
	AddNote(ctx context.Context) error
	Copy(ctx context.Context) error
	Devices(ctx context.Context) error
	Trust(ctx context.Context, deviceID string) error
	Revoke(ctx context.Context, deviceID string) error
	Sync(ctx context.Context) error
	Status(ctx context.Context) error
}

// runREPL starts a read-eval-print loop for the AccessMate CLI. It reads a
// line from the scanner, parses the first token as the command, and
// dispatches to methods on a. The loop exits on scanner EOF or when the
// user types "exit" or "quit".
//
// Errors returned by command handlers are ignored here; handlers report
// their own errors. This keeps the REPL loop resilient and focused on I/O.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		printlnFn(fmt.Sprintf("accessmate %s > ", statusFn()))
		if !scanner.Scan() {
			return
		}
		line := scanner.Text()
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd := parts[0]
		args := parts[1:]

		switch cmd {
		case "help":
			if a.isLoggedIn() {
				printlnFn("Available commands: get, set, reset, keys, notes, addnote, copy, devices, trust, revoke, sync, status, logout, forget, exit")
			} else {
				printlnFn("Available commands: login, autologin, status, exit")
			}

		case "login":
			_ = a.Login(ctx)

		case "autologin":
			_ = a.AutoLogin(ctx)

		case "get":
			if len(args) == 0 {
				printlnFn("Usage: get <key>")
				continue
			}
			_ = a.Get(ctx, args[0])

		case "set":
			if len(args) < 2 {
				printlnFn("Usage: set <key> <value>")
				continue
			}
			_ = a.Set(ctx, args[0], args[1:])

		case "reset":
			if len(args) == 0 {
				printlnFn("Usage: reset <key>")
				continue
			}
			_ = a.Reset(ctx, args[0])

		case "keys":
			_ = a.Keys(ctx)

		case "notes":
			_ = a.Notes(ctx)

		case "addnote":
			_ = a.AddNote(ctx)

		case "copy":
			_ = a.Copy(ctx)

		case "devices":
			_ = a.Devices(ctx)

		case "trust":
			if len(args) == 0 {
				printlnFn("Usage: trust <device_id>")
				continue
			}
			_ = a.Trust(ctx, args[0])

		case "revoke":
			if len(args) == 0 {
				printlnFn("Usage: revoke <device_id>")
				continue
			}
			_ = a.Revoke(ctx, args[0])

		case "sync":
			_ = a.Sync(ctx)

		case "status":
			_ = a.Status(ctx)

		case "logout":
			_ = a.Logout(ctx)

		case "forget":
			_ = a.Forget(ctx)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}
	}
}
