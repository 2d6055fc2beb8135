// Command dbops is the command-line entry point.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/koustreak/dbops/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.Execute(ctx)
	stop()

	if err != nil {
		cli.PrintError(os.Stderr, err)
		os.Exit(cli.ExitCode(err))
	}
}
