// Package manager coordinates the model lifecycle, request admission and the
// single dispatch worker. It is structured into small files by concern:
//
//   - manager.go: core Manager type, constructor, simple getters.
//   - config.go: ManagerConfig and package defaults; NewWithConfig applies defaults.
//   - types.go: lifecycle State, AdmissionPolicy and Snapshot.
//   - errors.go: error types and helpers (IsAdmissionRejected, IsGenerationFailed, ...).
//   - lifecycle.go: Start (model and default adapter load) and Stop (drain).
//   - submit.go: Submit/Generate admission entry points.
//   - worker.go: the dispatch loop that owns the backend Generator.
//   - status_report.go: Health and Snapshot reporting.
//   - events.go, eventpub_memory.go: lifecycle event publishing.
//   - metrics.go: Prometheus collectors for queue and worker.
//
// Only the worker goroutine ever calls into the Generator, so runtimes need
// not be safe for concurrent use. Every admitted record is resolved exactly
// once: by the worker, or by Stop when it is still queued at shutdown.
package manager
