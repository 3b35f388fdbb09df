package config

import (
	"os"
	"path/filepath"
	"testing"

	"metabert/pkg/types"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.yaml", "outer_batch_size: 4\ninner_update_lr: 0.001\nencoder_checkpoint: bert-mini\nmeta_testing_size: 50\ntask_modes:\n  sick: regression\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.OuterBatchSize != 4 || cfg.InnerUpdateLR != 0.001 || cfg.EncoderCheckpoint != "bert-mini" || cfg.MetaTestingSize != 50 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.TaskModes["sick"] != "regression" {
		t.Fatalf("task modes not parsed: %+v", cfg.TaskModes)
	}
	// untouched keys keep defaults
	if cfg.InnerBatchSize != 12 || cfg.EvalBatchSize != 16 {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestLoadJSON(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.json", `{"inner_batch_size":8,"inner_update_step":3,"device":"accel:0","device_budget_mb":2048,"train_tasks":["rte","mrpc"]}`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.InnerBatchSize != 8 || cfg.InnerUpdateStep != 3 || cfg.Device != "accel:0" || cfg.DeviceBudgetMB != 2048 || len(cfg.TrainTasks) != 2 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadTOML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.toml", "outer_update_lr=0.0002\ninner_update_step_eval=5\naddr=\":8081\"\nseed=7\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.OuterUpdateLR != 0.0002 || cfg.InnerUpdateStepEval != 5 || cfg.Addr != ":8081" || cfg.Seed != 7 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error on empty path")
	}
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.txt", "not supported")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected unsupported extension error")
	}
	p = writeTempFile(t, d, "bad.yaml", "inner_batch_size: [")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := Load(filepath.Join(d, "missing.json")); err == nil {
		t.Fatalf("expected missing file error")
	}
}

func TestValidate(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	cases := map[string]func(*Config){
		"zero inner batch": func(c *Config) { c.InnerBatchSize = 0 },
		"negative lr":      func(c *Config) { c.OuterUpdateLR = -1 },
		"no checkpoint":    func(c *Config) { c.EncoderCheckpoint = "" },
		"no data":          func(c *Config) { c.SyntheticTasks = 0 },
		"too few rows":     func(c *Config) { c.SyntheticRows = 10 },
		"bad mode":         func(c *Config) { c.TaskModes = map[string]string{"x": "summarization"} },
		"negative budget":  func(c *Config) { c.DeviceBudgetMB = -5 },
	}
	for name, mutate := range cases {
		c := Default()
		mutate(&c)
		if err := c.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestOutputModes(t *testing.T) {
	c := Default()
	c.TaskModes = map[string]string{"SICK": "Regression", "boolq": "classification"}
	m, err := c.OutputModes()
	if err != nil {
		t.Fatalf("modes: %v", err)
	}
	if m["sick"] != types.Regression || m["boolq"] != types.Classification {
		t.Fatalf("unexpected modes: %v", m)
	}
}
