package maml

import (
	"fmt"

	"github.com/rs/zerolog"

	"metabert/internal/device"
	"metabert/internal/head"
)

// Defaults applied when the corresponding Config fields are zero.
const (
	defaultInnerBatchSize      = 12
	defaultOuterUpdateLR       = 5e-5
	defaultInnerUpdateLR       = 5e-5
	defaultInnerUpdateStep     = 10
	defaultInnerUpdateStepEval = 40
	defaultMetaTestingSize     = 100
	defaultEvalBatchSize       = 16
)

// HeadRecorder keeps heads after their task has been processed.
type HeadRecorder interface {
	Record(*head.Head)
}

// Config holds the learner hyperparameters and collaborators.
type Config struct {
	InnerBatchSize      int
	OuterUpdateLR       float64
	InnerUpdateLR       float64
	InnerUpdateStep     int
	InnerUpdateStepEval int
	// MetaTestingSize is the number of support rows drawn with replacement
	// per fine-tuning pass.
	MetaTestingSize int
	EvalBatchSize   int
	Seed            int64

	// Device the encoder is leased onto for each task. Defaults to the host.
	Device    device.Device
	Logger    *zerolog.Logger
	Publisher EventPublisher
	// Heads receives every head used in MetaTrain; nil discards them.
	Heads HeadRecorder
}

func (c *Config) applyDefaults() error {
	setInt := func(v *int, def int, name string) error {
		if *v < 0 {
			return fmt.Errorf("%s must not be negative: %d", name, *v)
		}
		if *v == 0 {
			*v = def
		}
		return nil
	}
	for _, f := range []struct {
		v    *int
		def  int
		name string
	}{
		{&c.InnerBatchSize, defaultInnerBatchSize, "inner_batch_size"},
		{&c.InnerUpdateStep, defaultInnerUpdateStep, "inner_update_step"},
		{&c.InnerUpdateStepEval, defaultInnerUpdateStepEval, "inner_update_step_eval"},
		{&c.MetaTestingSize, defaultMetaTestingSize, "meta_testing_size"},
		{&c.EvalBatchSize, defaultEvalBatchSize, "eval_batch_size"},
	} {
		if err := setInt(f.v, f.def, f.name); err != nil {
			return err
		}
	}
	if c.OuterUpdateLR < 0 || c.InnerUpdateLR < 0 {
		return fmt.Errorf("learning rates must not be negative")
	}
	if c.OuterUpdateLR == 0 {
		c.OuterUpdateLR = defaultOuterUpdateLR
	}
	if c.InnerUpdateLR == 0 {
		c.InnerUpdateLR = defaultInnerUpdateLR
	}
	if c.Device == nil {
		c.Device = device.DefaultHost()
	}
	if c.Logger == nil {
		nop := zerolog.Nop()
		c.Logger = &nop
	}
	if c.Publisher == nil {
		c.Publisher = noopPublisher{}
	}
	return nil
}
