// Package cli wires the flowguard command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/hed1ad/flowguard/pkg/config"
	"github.com/hed1ad/flowguard/pkg/driver"
	"github.com/hed1ad/flowguard/pkg/logging"
	"github.com/hed1ad/flowguard/pkg/predictor"
)

// Usage is printed to stderr when artifact paths are missing.
const Usage = "USAGE: flowguard <model_path> <scaler_path>"

// Version is set at build time with -ldflags.
var Version = "dev"

var errUsage = errors.New("model and scaler paths are required")

type rootOptions struct {
	configPath string
	envFile    string
}

// NewRootCmd creates the flowguard command. stderr receives startup
// diagnostics and logs.
func NewRootCmd(stderr io.Writer) *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "flowguard <model_path> <scaler_path>",
		Short: "Classify network flow feature rows as anomaly or benign",
		Long: `flowguard loads a trained model and its feature scaler, then reads
comma-separated flow rows from stdin and writes one JSON verdict per row:

  Flow Duration, Total Fwd Packets, Total Backward Packets,
  Packet Length Mean, Flow IAT Mean, Fwd Flag Count

Rows that cannot be scored produce {"error": "..."} and processing continues.`,
		Version:       Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) < 2 {
				return errUsage
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, args[0], args[1], cmd.InOrStdin(), cmd.OutOrStdout(), stderr)
		},
	}

	cmd.Flags().StringVar(&opts.configPath, "config", "", "YAML config file")
	cmd.Flags().StringVar(&opts.envFile, "env-file", "", "dotenv file loaded before reading FLOWGUARD_* variables")

	return cmd
}

func run(ctx context.Context, opts *rootOptions, modelPath, scalerPath string, stdin io.Reader, stdout, stderr io.Writer) error {
	cfg, err := config.Load(opts.configPath, opts.envFile)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log, stderr)
	if err != nil {
		return err
	}
	defer logger.Sync()

	p, err := predictor.New(modelPath, scalerPath, predictor.WithLogger(logger))
	if err != nil {
		return err
	}

	_, err = driver.Run(ctx, stdin, stdout, p, driver.WithLogger(logger))
	return err
}

// Execute runs the command with args and returns the process exit code.
func Execute(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	cmd := NewRootCmd(stderr)
	cmd.SetArgs(args)
	cmd.SetIn(stdin)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	if err := cmd.ExecuteContext(ctx); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintln(stderr, Usage)
		} else {
			fmt.Fprintf(stderr, "ERROR: %v\n", err)
		}
		return 1
	}
	return 0
}
