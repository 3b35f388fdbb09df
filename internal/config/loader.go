package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"metabert/pkg/types"
)

// Config holds the meta-learning hyperparameters, data sources and service
// settings of a run. Keys missing from a file keep their Default values.
type Config struct {
	// meta-learning
	OuterBatchSize      int     `json:"outer_batch_size" yaml:"outer_batch_size" toml:"outer_batch_size"`
	InnerBatchSize      int     `json:"inner_batch_size" yaml:"inner_batch_size" toml:"inner_batch_size"`
	OuterUpdateLR       float64 `json:"outer_update_lr" yaml:"outer_update_lr" toml:"outer_update_lr"`
	InnerUpdateLR       float64 `json:"inner_update_lr" yaml:"inner_update_lr" toml:"inner_update_lr"`
	InnerUpdateStep     int     `json:"inner_update_step" yaml:"inner_update_step" toml:"inner_update_step"`
	InnerUpdateStepEval int     `json:"inner_update_step_eval" yaml:"inner_update_step_eval" toml:"inner_update_step_eval"`
	EncoderCheckpoint   string  `json:"encoder_checkpoint" yaml:"encoder_checkpoint" toml:"encoder_checkpoint"`
	MetaTestingSize     int     `json:"meta_testing_size" yaml:"meta_testing_size" toml:"meta_testing_size"`
	EvalBatchSize       int     `json:"eval_batch_size" yaml:"eval_batch_size" toml:"eval_batch_size"`
	HeadLogSize         int     `json:"head_log_size" yaml:"head_log_size" toml:"head_log_size"`

	// episodes
	KSupport    int               `json:"k_support" yaml:"k_support" toml:"k_support"`
	KQuery      int               `json:"k_query" yaml:"k_query" toml:"k_query"`
	NumTaskTest int               `json:"num_task_test" yaml:"num_task_test" toml:"num_task_test"`
	DataDir     string            `json:"data_dir" yaml:"data_dir" toml:"data_dir"`
	TrainTasks  []string          `json:"train_tasks" yaml:"train_tasks" toml:"train_tasks"`
	TestTasks   []string          `json:"test_tasks" yaml:"test_tasks" toml:"test_tasks"`
	TaskModes   map[string]string `json:"task_modes" yaml:"task_modes" toml:"task_modes"`
	// SyntheticTasks generates that many tasks when DataDir is empty.
	SyntheticTasks int `json:"synthetic_tasks" yaml:"synthetic_tasks" toml:"synthetic_tasks"`
	SyntheticRows  int `json:"synthetic_rows" yaml:"synthetic_rows" toml:"synthetic_rows"`
	SeqLen         int `json:"seq_len" yaml:"seq_len" toml:"seq_len"`

	// run
	Epochs        int    `json:"epochs" yaml:"epochs" toml:"epochs"`
	StepsPerEpoch int    `json:"steps_per_epoch" yaml:"steps_per_epoch" toml:"steps_per_epoch"`
	EvalEvery     int    `json:"eval_every" yaml:"eval_every" toml:"eval_every"`
	CheckpointDir string `json:"checkpoint_dir" yaml:"checkpoint_dir" toml:"checkpoint_dir"`
	Seed          int64  `json:"seed" yaml:"seed" toml:"seed"`

	// device
	Device         string `json:"device" yaml:"device" toml:"device"`
	DeviceBudgetMB int    `json:"device_budget_mb" yaml:"device_budget_mb" toml:"device_budget_mb"`
	DeviceMarginMB int    `json:"device_margin_mb" yaml:"device_margin_mb" toml:"device_margin_mb"`

	// service
	Addr        string   `json:"addr" yaml:"addr" toml:"addr"`
	LogLevel    string   `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFile     string   `json:"log_file" yaml:"log_file" toml:"log_file"`
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		OuterBatchSize:      2,
		InnerBatchSize:      12,
		OuterUpdateLR:       5e-5,
		InnerUpdateLR:       5e-5,
		InnerUpdateStep:     10,
		InnerUpdateStepEval: 40,
		EncoderCheckpoint:   "bert-tiny",
		MetaTestingSize:     100,
		EvalBatchSize:       16,
		HeadLogSize:         64,
		KSupport:            80,
		KQuery:              20,
		NumTaskTest:         3,
		SyntheticTasks:      6,
		SyntheticRows:       200,
		SeqLen:              32,
		Epochs:              5,
		StepsPerEpoch:       100,
		EvalEvery:           20,
		Seed:                42,
		Device:              "cpu",
		LogLevel:            "info",
	}
}

// Load reads a configuration file based on its extension over Default().
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	case ".json":
		err = json.Unmarshal(b, &cfg)
	case ".toml":
		err = toml.Unmarshal(b, &cfg)
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	positive := []struct {
		name string
		v    int
	}{
		{"outer_batch_size", c.OuterBatchSize},
		{"inner_batch_size", c.InnerBatchSize},
		{"inner_update_step", c.InnerUpdateStep},
		{"inner_update_step_eval", c.InnerUpdateStepEval},
		{"meta_testing_size", c.MetaTestingSize},
		{"eval_batch_size", c.EvalBatchSize},
		{"k_support", c.KSupport},
		{"k_query", c.KQuery},
		{"num_task_test", c.NumTaskTest},
		{"epochs", c.Epochs},
		{"steps_per_epoch", c.StepsPerEpoch},
		{"seq_len", c.SeqLen},
	}
	for _, p := range positive {
		if p.v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", p.name, p.v)
		}
	}
	if c.OuterUpdateLR <= 0 || c.InnerUpdateLR <= 0 {
		return fmt.Errorf("learning rates must be positive")
	}
	if c.EncoderCheckpoint == "" {
		return fmt.Errorf("encoder_checkpoint must be set")
	}
	if c.EvalEvery < 0 || c.HeadLogSize < 0 {
		return fmt.Errorf("eval_every and head_log_size must not be negative")
	}
	if c.DataDir == "" && c.SyntheticTasks <= 0 {
		return fmt.Errorf("either data_dir or synthetic_tasks must be set")
	}
	if c.DataDir == "" && c.SyntheticRows < c.KSupport+c.KQuery {
		return fmt.Errorf("synthetic_rows %d cannot cover k_support+k_query=%d", c.SyntheticRows, c.KSupport+c.KQuery)
	}
	if c.DeviceBudgetMB < 0 || c.DeviceMarginMB < 0 {
		return fmt.Errorf("device budget and margin must not be negative")
	}
	if _, err := c.OutputModes(); err != nil {
		return err
	}
	return nil
}

// OutputModes converts task_modes into typed output modes.
func (c Config) OutputModes() (map[string]types.OutputMode, error) {
	out := make(map[string]types.OutputMode, len(c.TaskModes))
	for id, m := range c.TaskModes {
		mode := types.OutputMode(strings.ToLower(m))
		switch mode {
		case types.Classification, types.Regression:
		default:
			return nil, fmt.Errorf("task_modes.%s: unsupported output mode %q", id, m)
		}
		out[strings.ToLower(id)] = mode
	}
	return out, nil
}
