// ./main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/xkilldash9x/dishcheck/cmd"
)

// Exit codes.
const (
	exitOK          = 0
	exitError       = 1
	exitNotCleared  = 2
	exitInterrupted = 130
)

func main() {
	// Cancel in-flight waits on SIGINT/SIGTERM so tabs and Chrome get closed.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	code := exitCode(cmd.Execute(ctx))
	stop()
	os.Exit(code)
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, context.Canceled):
		return exitInterrupted
	case errors.Is(err, cmd.ErrObstructionNotCleared):
		fmt.Fprintln(os.Stderr, "Error:", err)
		return exitNotCleared
	default:
		fmt.Fprintln(os.Stderr, "Error:", err)
		return exitError
	}
}
