package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "paperlayout",
		Short:         "Reconstruct reading order and structure from PDF layout detections",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		reconstructCmd(),
		visualizeCmd(),
		renderCmd(),
		enqueueCmd(),
		searchCmd(),
		statusCmd(),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
