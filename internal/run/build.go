package run

import (
	"fmt"

	"github.com/rs/zerolog"

	"metabert/internal/config"
	"metabert/internal/device"
	"metabert/internal/encoder"
	"metabert/internal/maml"
	"metabert/internal/tasks"
	"metabert/pkg/types"
)

// Build assembles a Runner from settings: the encoder from
// encoder_checkpoint, tasks from data_dir or the synthetic generator and the
// device from device, device_budget_mb and device_margin_mb.
func Build(settings config.Config, logger *zerolog.Logger, pub maml.EventPublisher) (*Runner, error) {
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	dev, err := device.Parse(settings.Device, settings.DeviceBudgetMB, settings.DeviceMarginMB)
	if err != nil {
		return nil, err
	}
	enc, err := encoder.FromCheckpoint(settings.EncoderCheckpoint, settings.Seed)
	if err != nil {
		return nil, err
	}
	sets, err := LoadTasks(settings, enc.Config())
	if err != nil {
		return nil, err
	}
	sampler, err := tasks.NewSampler(sets, settings.Seed)
	if err != nil {
		return nil, err
	}
	return New(settings, Options{
		Encoder:   enc,
		Sampler:   sampler,
		Device:    dev,
		Logger:    logger,
		Publisher: pub,
	})
}

// LoadTasks reads feature files from data_dir, or generates synthetic_tasks
// tasks sized for the encoder when no directory is set. Synthetic tasks
// alternate between classification and regression.
func LoadTasks(settings config.Config, enc encoder.Config) ([]*tasks.FeatureSet, error) {
	if settings.DataDir != "" {
		modes, err := settings.OutputModes()
		if err != nil {
			return nil, err
		}
		sets, err := tasks.LoadDir(settings.DataDir, modes)
		if err != nil {
			return nil, err
		}
		if len(sets) == 0 {
			return nil, noTasksError{pool: "data_dir " + settings.DataDir}
		}
		return sets, nil
	}
	seqLen := min(settings.SeqLen, enc.MaxPositions)
	sets := make([]*tasks.FeatureSet, settings.SyntheticTasks)
	for i := range sets {
		mode := types.Classification
		if i%2 == 1 {
			mode = types.Regression
		}
		id := fmt.Sprintf("synthetic-%02d", i)
		sets[i] = tasks.Synthetic(id, mode, settings.SyntheticRows, seqLen, enc.VocabSize, settings.Seed+int64(i))
	}
	return sets, nil
}
