package types

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: run not started
	Error string `json:"error" example:"run not started"`
	// HTTP status code.
	// example: 503
	Code int `json:"code" example:"503"`
}

// TasksResponse wraps the task table returned by GET /tasks.
type TasksResponse struct {
	Tasks []TaskSpec `json:"tasks"`
}

// ResidentStatus describes one parameter set placed on a device.
type ResidentStatus struct {
	// example: encoder-5f0c
	ID string `json:"id" example:"encoder-5f0c"`
	// example: 17825792
	Bytes int64 `json:"bytes" example:"17825792"`
	// Time the resident was placed (unix seconds).
	// example: 1700000000
	SinceUnix int64 `json:"since_unix" example:"1700000000"`
}

// DeviceStatus summarizes memory accounting of a compute device.
type DeviceStatus struct {
	// example: accel:0
	Name string `json:"name" example:"accel:0"`
	// example: accelerator
	Kind string `json:"kind" example:"accelerator"`
	// Budget in MB; 0 means unlimited.
	// example: 8192
	BudgetMB int `json:"budget_mb" example:"8192"`
	// Reserved headroom in MB.
	// example: 512
	MarginMB int `json:"margin_mb" example:"512"`
	// Bytes held by resident parameter sets.
	UsedBytes int64 `json:"used_bytes"`
	// Bytes released by residents but not yet returned by EmptyCache.
	CachedBytes int64 `json:"cached_bytes"`
	// High-water mark of UsedBytes.
	PeakBytes int64 `json:"peak_bytes"`
	// Number of placements onto the device.
	Moves uint64 `json:"moves"`
	// Number of cache flushes, explicit or forced by budget pressure.
	CacheClears uint64           `json:"cache_clears"`
	Residents   []ResidentStatus `json:"residents"`
}

// MetricPoint is one recorded meta-step or evaluation result.
type MetricPoint struct {
	// example: 12
	Step int `json:"step" example:"12"`
	// example: 1
	Epoch int `json:"epoch" example:"1"`
	// example: 0.71
	Value float64 `json:"value" example:"0.71"`
	// Wall time unix seconds.
	TimeUnix int64 `json:"time_unix"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Identifier of the current run.
	// example: 4a6c3d8e-3f57-4b8e-9d0a-0a4f5e0cf6b1
	RunID string `json:"run_id" example:"4a6c3d8e-3f57-4b8e-9d0a-0a4f5e0cf6b1"`
	// Lifecycle phase (idle, training, testing, checkpointing, done, error).
	// example: training
	Phase string `json:"phase" example:"training"`
	// example: 2
	Epoch int `json:"epoch" example:"2"`
	// Meta steps completed across all epochs.
	// example: 140
	Step int `json:"step" example:"140"`
	// Task currently being processed, if any.
	// example: rte
	CurrentTask string `json:"current_task,omitempty" example:"rte"`
	// Most recent meta-training metric.
	LastTrain *MetricPoint `json:"last_train,omitempty"`
	// Most recent meta-test query metric.
	LastTest *MetricPoint `json:"last_test,omitempty"`
	// Most recent forgetting metric.
	LastForgetting *MetricPoint `json:"last_forgetting,omitempty"`
	// Best meta-test query metric so far.
	BestTest *MetricPoint `json:"best_test,omitempty"`
	// Path of the most recent encoder checkpoint.
	Checkpoint string `json:"checkpoint,omitempty"`
	// Encoder parameter fingerprint (xxh3, hex).
	// example: 9c1e0f3a77d2b410
	Fingerprint string       `json:"fingerprint,omitempty" example:"9c1e0f3a77d2b410"`
	Device      DeviceStatus `json:"device"`
	// Last error observed by the run (if any).
	LastError string `json:"last_error,omitempty"`
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}
