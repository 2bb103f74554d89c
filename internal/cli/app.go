// Package cli implements the interactive shell of the AccessMate client: a
// small REPL over the manager façade for logging in, editing settings,
// managing notes, and driving cross-device sync.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/accessmate/accessmate/internal/manager"
)

type App struct {
	manager *manager.Manager
	reader  *bufio.Reader
	out     io.Writer
}

func NewApp(m *manager.Manager) *App {
	return &App{
		manager: m,
		reader:  bufio.NewReader(os.Stdin),
		out:     os.Stdout,
	}
}

// Run attempts a silent auto-login, then hands control to the REPL.
func (a *App) Run(ctx context.Context) {
	if err := a.manager.AutoLogin(ctx, true); err == nil {
		fmt.Fprintf(a.out, "Welcome back, %s\n", a.manager.Status().Username)
	}

	fmt.Fprintln(a.out, "AccessMate CLI (type 'help' for commands)")
	scanner := bufio.NewScanner(os.Stdin)
	runREPL(ctx, a, a.statusLine, scanner)

	if a.isLoggedIn() {
		_ = a.Logout(ctx)
	}
}

func (a *App) isLoggedIn() bool {
	return a.manager.Status().LoggedIn
}

func (a *App) statusLine() string {
	st := a.manager.Status()
	if !st.LoggedIn {
		return "(signed out)"
	}
	return st.Username
}
