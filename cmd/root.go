// Package cmd defines the CLI commands of the dce executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/olam-creations/lefilonao-sub001/internal/config"
	"github.com/olam-creations/lefilonao-sub001/internal/server"
	"github.com/olam-creations/lefilonao-sub001/internal/store"
	"github.com/olam-creations/lefilonao-sub001/internal/worker"
)

type appKeyType string

const appKey appKeyType = "app"

// Acquirer runs and persists one acquisition.
type Acquirer interface {
	Process(ctx context.Context, job worker.Job) (store.Record, error)
}

// App is what the commands need from the application, so tests can inject a
// fake.
type App interface {
	Run(ctx context.Context) error
	Close(ctx context.Context) error
	Acquirer() Acquirer
	Logger() *zap.Logger
}

type serverApp struct {
	*server.App
}

func (a serverApp) Acquirer() Acquirer {
	return a.Processor()
}

// newApp is the application factory, replaced in tests.
var newApp = func(ctx context.Context, cfg config.Config) (App, error) {
	app, err := server.Build(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return serverApp{App: app}, nil
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "dce",
		Short: "Acquires DCE documents for French public procurement notices.",
		Long: `dce locates and downloads the tender document package (DCE) of a public
procurement notice. It walks a cascade of strategies, from a direct fetch to a
headless browser, until one of them returns a document the analyzer accepts.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); env vars use the DCE_ prefix")
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newAcquireCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute runs the root command.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
