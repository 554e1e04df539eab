package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/flowmium/flowmium/internal/app"
	"github.com/flowmium/flowmium/internal/pkg/logger"
	"github.com/flowmium/flowmium/internal/sidecar"
)

var rootCmd = &cobra.Command{
	Use:   "flowmium",
	Short: "A DAG workflow orchestrator that runs tasks as containers on Kubernetes.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()
		return nil
	},
}

// serverCmd runs the API server plus the background executor loop, per
// spec.md's description of the orchestrator process (internal/app.App).
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "run the flowmium API server and executor loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.New()
		if err != nil {
			return fmt.Errorf("initialize app: %w", err)
		}
		defer a.Close()

		a.Start()

		port := viper.GetInt("port")
		if port == 0 {
			port = a.Cfg.Port
		}
		addr := fmt.Sprintf(":%d", port)

		errCh := make(chan error, 1)
		go func() {
			errCh <- a.Run(addr)
		}()

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-errCh:
			return err
		case <-sig:
			a.Log.Info("shutting down")
			return nil
		}
	},
}

// taskCmd is the single-process task driver spec.md's CLI shape requires in
// place of the original Rust implementation's separate init/wait binaries:
// it downloads declared inputs, execs the user's command, and uploads
// declared outputs on success. Flag parsing is disabled so everything after
// "task" belongs to the wrapped command.
var taskCmd = &cobra.Command{
	Use:                "task <command> [args...]",
	Short:              "run a task's declared inputs/command/outputs (invoked inside the task container)",
	Args:               cobra.MinimumNArgs(1),
	DisableFlagParsing: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := logger.New("production")
		if err != nil {
			return err
		}
		defer log.Sync()

		cfg, err := sidecar.ConfigFromEnv()
		if err != nil {
			return fmt.Errorf("load task config: %w", err)
		}

		exitCode, err := sidecar.Run(context.Background(), cfg, args, log)
		if err != nil {
			return err
		}
		os.Exit(exitCode)
		return nil
	},
}

// initCmd copies the flowmium binary into the shared volume the main task
// container mounts, replacing the original's init-container shell script.
var initCmd = &cobra.Command{
	Use:   "init <src> <dest>",
	Short: "copy this binary to dest (used as the init-container entrypoint)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sidecar.InitCopy(args[0], args[1])
	},
}

func init() {
	serverCmd.Flags().Int("port", 0, "port to listen on (defaults to FLOWMIUM_PORT)")
	if err := viper.BindPFlag("port", serverCmd.Flags().Lookup("port")); err != nil {
		panic(err)
	}
	viper.SetEnvPrefix("flowmium")
	viper.AutomaticEnv()

	rootCmd.AddCommand(serverCmd, taskCmd, initCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
