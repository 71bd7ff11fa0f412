// Command comfydrive runs workflow templates against a ComfyUI server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/richinsley/comfydrive/client"
	"github.com/richinsley/comfydrive/config"
	"github.com/richinsley/comfydrive/workflow"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// app holds what every subcommand needs. It is filled in before any
// subcommand runs.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	client *client.ComfyClient
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		serverURL  string
		logLevel   string
		logFormat  string
	)
	a := &app{}

	root := &cobra.Command{
		Use:   "comfydrive",
		Short: "Run ComfyUI workflow templates from the command line",
		Long: `comfydrive loads API-format workflow templates from a directory, finds the
prompt, sampler, latent and image nodes in each of them, and runs them on a
ComfyUI server with your prompt and seed.

Examples:
  # check the server
  comfydrive check

  # list templates
  comfydrive workflows list

  # generate two images with template 2
  comfydrive gen -w 2 -n 2 "a lighthouse at dusk"`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if serverURL != "" {
				cfg.Server.URL = serverURL
			}
			if logLevel != "" {
				cfg.Logging.Level = logLevel
			}
			if logFormat != "" {
				cfg.Logging.Format = logFormat
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			a.cfg = cfg
			a.logger = cfg.Logging.NewLogger(os.Stderr)
			a.client = client.NewComfyClient(cfg.Server.URL,
				client.WithRequestTimeout(cfg.Server.RequestTimeout),
				client.WithLogger(a.logger),
			)
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "comfydrive.yaml", "path to the configuration file")
	root.PersistentFlags().StringVarP(&serverURL, "server", "s", "", "ComfyUI server address, overrides server.url")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "", "text or json")

	root.AddCommand(checkCmd(a))
	root.AddCommand(workflowsCmd(a))
	root.AddCommand(genCmd(a))
	root.AddCommand(i2iCmd(a))
	return root
}

func (a *app) registry() (*workflow.Registry, error) {
	reg, err := workflow.NewRegistry(a.cfg.Workflows.Dir,
		workflow.WithTaxonomy(a.cfg.Taxonomy()),
		workflow.WithLogger(a.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("load workflows: %w", err)
	}
	return reg, nil
}

func (a *app) orchestrator() *client.Orchestrator {
	return client.NewOrchestrator(a.client,
		client.WithPollInterval(a.cfg.Jobs.PollInterval),
		client.WithJobTimeout(a.cfg.Jobs.Timeout),
		client.WithSeedTaxonomy(a.cfg.Taxonomy()),
		client.WithOrchestratorLogger(a.logger),
	)
}
