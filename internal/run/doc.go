// Package run drives a meta-learning run over the shared encoder. It is
// structured into small files by concern:
//
//   - runner.go: Runner type, constructor and simple getters.
//   - loop.go: the epoch loop, periodic evaluation and checkpointing.
//   - build.go: Build assembles encoder, tasks and device from a config file.
//   - status.go: Status/Ready reporting for the monitor API.
//   - events.go: the Runner as a maml.EventPublisher.
//   - errors.go: error values and helpers.
//
// A Runner is driven by one goroutine calling Run; Status, Ready and Tasks
// may be called concurrently from others.
package run
