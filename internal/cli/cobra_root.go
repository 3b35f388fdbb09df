package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// buildRootCmdWith constructs the command tree wired to the fn* actions.
func buildRootCmdWith(cfg *Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "metabert",
		Short:         "Meta-learning over a shared BERT encoder with per-task heads",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags -> Config
	pf := root.PersistentFlags()
	pf.StringVarP(&cfg.ConfigPath, "config", "c", cfg.ConfigPath, "Config file (.yaml, .json or .toml); defaults METABERT_CONFIG")
	pf.StringVar(&cfg.Addr, "addr", cfg.Addr, "Monitor listen address, e.g. :8080 (defaults METABERT_ADDR)")
	pf.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug|info|warn|error (defaults METABERT_LOG_LEVEL or info)")
	pf.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "Also write JSON logs to this rotating file")
	pf.StringSliceVar(&cfg.CORSOrigins, "cors-origins", cfg.CORSOrigins, "Allowed CORS origins for the monitor API")

	var ov overrides
	addRunFlags := func(cmd *cobra.Command) {
		f := cmd.Flags()
		f.StringVar(&ov.encoder, "encoder", "", "Encoder checkpoint file or preset name")
		f.StringVar(&ov.dataDir, "data-dir", "", "Directory of <task>.jsonl feature files")
		f.StringVar(&ov.device, "device", "", "Device: cpu|accel|accel:N")
		f.Int64Var(&ov.seed, "seed", 0, "Random seed")
	}

	trainCmd := &cobra.Command{
		Use:     "train",
		Short:   "Meta-train the encoder, checkpointing after each epoch",
		Example: "  metabert train -c metabert.yaml --addr :8080\n  metabert train --encoder bert-mini --epochs 1",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := cfg.settings()
			if err != nil {
				return err
			}
			ov.apply(&s)
			return fnTrain(cmd.Context(), cfg, s)
		},
	}
	addRunFlags(trainCmd)
	trainCmd.Flags().StringVar(&ov.checkpointDir, "checkpoint-dir", "", "Directory for encoder checkpoints")
	trainCmd.Flags().IntVar(&ov.epochs, "epochs", 0, "Number of epochs")

	testCmd := &cobra.Command{
		Use:     "test",
		Short:   "Meta-test an encoder checkpoint and report query and forgetting metrics",
		Example: "  metabert test --encoder runs/encoder-epoch-005.ckpt",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := cfg.settings()
			if err != nil {
				return err
			}
			ov.apply(&s)
			return fnTest(cmd.Context(), cfg, s)
		},
	}
	addRunFlags(testCmd)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the monitor API for a configured run without training",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := cfg.settings()
			if err != nil {
				return err
			}
			ov.apply(&s)
			if s.Addr == "" {
				return fmt.Errorf("serve requires --addr or addr in the config file")
			}
			return fnServe(cmd.Context(), cfg, s)
		},
	}
	addRunFlags(serveCmd)

	inspectCmd := &cobra.Command{
		Use:     "inspect <checkpoint|preset>",
		Short:   "Print encoder configuration, parameter count and fingerprint",
		Example: "  metabert inspect bert-tiny\n  metabert inspect runs/encoder-epoch-001.ckpt",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return fnInspect(cfg, args[0])
		},
	}

	root.AddCommand(trainCmd, testCmd, serveCmd, inspectCmd)
	return root
}
