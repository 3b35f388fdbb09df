package types

// OutputMode selects the per-task head shape, loss and metric.
type OutputMode string

const (
	// Classification heads emit two logits trained with cross-entropy and
	// are scored by accuracy.
	Classification OutputMode = "classification"
	// Regression heads emit one value trained with mean squared error and
	// are scored by Pearson correlation.
	Regression OutputMode = "regression"
)

// TaskSpec describes a task known to the sampler.
type TaskSpec struct {
	// Stable identifier used in meta-batches.
	// example: sst-2
	ID string `json:"id" example:"sst-2"`
	// Human-friendly name.
	// example: SST-2
	Name string `json:"name" example:"SST-2"`
	// Output mode of the task head.
	// example: classification
	Mode OutputMode `json:"mode" example:"classification"`
	// Number of feature rows available for sampling.
	// example: 67349
	Rows int `json:"rows,omitempty" example:"67349"`
}
