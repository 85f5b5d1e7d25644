// Package gateway coordinates admitted generation requests against a small
// fixed pool of backend runtime sessions. It is structured into small files
// by concern:
//
//   - gateway.go: core Gateway type, constructor, run loop, shutdown.
//   - config.go: Config and package defaults.
//   - types.go: Request/Session types and their state machines.
//   - errors.go: error taxonomy and predicate helpers.
//   - admission.go: validation and capacity ceiling before queuing.
//   - queue.go: strict-FIFO queue with inert cancelled entries.
//   - dispatch.go: the single dispatch loop binding queue heads to sessions.
//   - pool.go: session lifecycle, health checks, crash restart with backoff.
//   - relay.go: bounded-buffer streaming relay with backpressure.
//   - events.go: lifecycle event publishing.
//   - status.go: status snapshot for the HTTP layer.
//
// External packages should treat this package as the orchestration layer and
// use public methods only (NewWithConfig, Start, Generate, Submit, Cancel,
// Preload, Ready, Status, Shutdown). Internal types are subject to change.
package gateway
