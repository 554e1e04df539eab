// Package sidecar implements the in-container task driver (spec.md §4.4):
// parse declared inputs/outputs, download inputs, exec the user command in
// process, upload outputs only on success. Supersedes the Rust original's
// older two-binary init/wait split
// (original_source/flowmium/src/artefacts/sidecar.rs,
// original_source/flowmium/src/flow/sidecar.rs) with the single `task`
// subcommand shape spec.md's CLI section actually specifies.
package sidecar

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"

	"github.com/flowmium/flowmium/internal/artefacts"
	"github.com/flowmium/flowmium/internal/flow/model"
	"github.com/flowmium/flowmium/internal/pkg/logger"
)

// Config is read from the process environment, materialized by the
// executor at container spawn time (spec.md §4.3's job shape).
type Config struct {
	FlowID       string
	Inputs       []model.Input
	Outputs      []model.Output
	BucketName   string
	AccessKey    string
	SecretKey    string
	TaskStoreURL string
}

func ConfigFromEnv() (Config, error) {
	cfg := Config{
		FlowID:       os.Getenv("FLOWMIUM_FLOW_ID"),
		BucketName:   os.Getenv("FLOWMIUM_BUCKET_NAME"),
		AccessKey:    os.Getenv("FLOWMIUM_ACCESS_KEY"),
		SecretKey:    os.Getenv("FLOWMIUM_SECRET_KEY"),
		TaskStoreURL: os.Getenv("FLOWMIUM_TASK_STORE_URL"),
	}

	if raw := os.Getenv("FLOWMIUM_INPUT_JSON"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &cfg.Inputs); err != nil {
			return Config{}, fmt.Errorf("parse FLOWMIUM_INPUT_JSON: %w", err)
		}
	}
	if raw := os.Getenv("FLOWMIUM_OUTPUT_JSON"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &cfg.Outputs); err != nil {
			return Config{}, fmt.Errorf("parse FLOWMIUM_OUTPUT_JSON: %w", err)
		}
	}
	return cfg, nil
}

// Run executes the protocol steps in spec.md §4.4: download every input,
// exec userCmd inheriting stdout/stderr, and only on a zero exit status
// upload every output. Returns the user command's exit code.
func Run(ctx context.Context, cfg Config, userCmd []string, log *logger.Logger) (int, error) {
	client := artefacts.NewClient(cfg.TaskStoreURL, cfg.BucketName, cfg.AccessKey, cfg.SecretKey)

	for _, in := range cfg.Inputs {
		key := artefacts.StorePath(cfg.FlowID, in.From)
		log.Info("downloading input", "from", in.From, "path", in.Path)
		if err := client.DownloadInput(ctx, in.Path, key); err != nil {
			return 1, fmt.Errorf("download input %q: %w", in.From, err)
		}
	}

	if len(userCmd) == 0 {
		return 1, fmt.Errorf("no user command given")
	}

	cmd := exec.CommandContext(ctx, userCmd[0], userCmd[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()

	runErr := cmd.Run()
	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return 1, fmt.Errorf("exec user command: %w", runErr)
		}
	}

	if exitCode != 0 {
		log.Error("user command failed, skipping output upload", "exit_code", exitCode)
		return exitCode, nil
	}

	for _, out := range cfg.Outputs {
		key := artefacts.StorePath(cfg.FlowID, out.Name)
		log.Info("uploading output", "name", out.Name, "path", out.Path)
		if err := client.UploadOutput(ctx, out.Path, key); err != nil {
			return 1, fmt.Errorf("upload output %q: %w", out.Name, err)
		}
	}

	return 0, nil
}

// InitCopy implements the `init` subcommand: copy the flowmium binary from
// src to dest, so a task image need not embed flowmium itself (spec.md
// §4.3's init-container shape).
func InitCopy(src, dest string) error {
	content, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read flowmium binary: %w", err)
	}
	if err := os.WriteFile(dest, content, 0o755); err != nil {
		return fmt.Errorf("write flowmium binary: %w", err)
	}
	return nil
}
