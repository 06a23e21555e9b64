package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/openbootdotdev/reposnap/internal/cli"
	"github.com/openbootdotdev/reposnap/internal/ui"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.Execute(ctx); err != nil {
		ui.Error(fmt.Sprintf("Error: %v", err))
		stop()
		os.Exit(1)
	}
}
