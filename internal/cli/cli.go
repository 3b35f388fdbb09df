// Package cli is the metabert command line: train, test, serve and inspect
// wired to the run, encoder and httpapi packages.
package cli

import (
	"context"
	"io"
	"os"
	"strings"

	"metabert/internal/config"
)

// Config holds the process-level options shared by every command. Values
// set here override the configuration file.
type Config struct {
	ConfigPath  string
	Addr        string
	LogLevel    string
	LogFile     string
	CORSOrigins []string
	// Out receives command results; defaults to stdout.
	Out io.Writer
	// Err receives console logs; defaults to stderr.
	Err io.Writer
}

// DefaultConfig reads METABERT_ADDR, METABERT_LOG_LEVEL and METABERT_CONFIG.
func DefaultConfig() *Config {
	return &Config{
		ConfigPath: envStr("METABERT_CONFIG", ""),
		Addr:       envStr("METABERT_ADDR", ""),
		LogLevel:   envStr("METABERT_LOG_LEVEL", ""),
		Out:        os.Stdout,
		Err:        os.Stderr,
	}
}

// Run executes the command line args against cfg.
func Run(ctx context.Context, args []string, cfg *Config) error {
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Err == nil {
		cfg.Err = os.Stderr
	}
	root := buildRootCmdWith(cfg)
	root.SetArgs(args)
	root.SetOut(cfg.Out)
	root.SetErr(cfg.Err)
	return root.ExecuteContext(ctx)
}

// settings loads the configuration file (or defaults) and applies the
// process-level overrides.
func (c *Config) settings() (config.Config, error) {
	s := config.Default()
	if c.ConfigPath != "" {
		var err error
		if s, err = config.Load(c.ConfigPath); err != nil {
			return s, err
		}
	}
	if c.Addr != "" {
		s.Addr = c.Addr
	}
	if c.LogLevel != "" {
		s.LogLevel = c.LogLevel
	}
	if c.LogFile != "" {
		s.LogFile = c.LogFile
	}
	if len(c.CORSOrigins) > 0 {
		s.CORSOrigins = c.CORSOrigins
	}
	return s, nil
}

// overrides are per-command flags layered over the loaded settings.
type overrides struct {
	encoder       string
	dataDir       string
	checkpointDir string
	device        string
	epochs        int
	seed          int64
}

func (o overrides) apply(s *config.Config) {
	if o.encoder != "" {
		s.EncoderCheckpoint = o.encoder
	}
	if o.dataDir != "" {
		s.DataDir = o.dataDir
	}
	if o.checkpointDir != "" {
		s.CheckpointDir = o.checkpointDir
	}
	if o.device != "" {
		s.Device = o.device
	}
	if o.epochs > 0 {
		s.Epochs = o.epochs
	}
	if o.seed != 0 {
		s.Seed = o.seed
	}
}

// Env helpers
func envStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
