package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"imaged/internal/config"
	"imaged/internal/worker"
)

func newWorkerCmd() *cobra.Command {
	var (
		renderer      string
		renderCommand string
		renderArgs    []string
		logLevel      string
	)
	cmd := &cobra.Command{
		Use:    "worker",
		Short:  "Run one generator worker on stdin/stdout (spawned by serve)",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// stdout carries protocol frames; logs go to stderr only
			log, err := config.NewLogger(os.Stderr, logLevel, "json")
			if err != nil {
				return err
			}
			log = log.With().Int("pid", os.Getpid()).Logger()
			r, err := worker.NewRenderer(renderer, renderCommand, renderArgs, log)
			if err != nil {
				return err
			}
			// the supervisor decides when a worker closes; a terminal ^C
			// reaches the whole process group
			signal.Ignore(syscall.SIGINT)
			return worker.New(r, log).Run(context.Background(), os.Stdin, os.Stdout)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&renderer, "renderer", config.RendererPlaceholder, "Renderer: placeholder|exec")
	fl.StringVar(&renderCommand, "render-command", "", "Command run by the exec renderer")
	fl.StringArrayVar(&renderArgs, "render-arg", nil, "Extra argument for the render command (repeatable)")
	fl.StringVar(&logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	return cmd
}
