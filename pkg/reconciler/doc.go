// Package reconciler reconciles registry state against what workers
// actually report. A sweep probes every healthy worker's resident models,
// deletes assignments pointing at a worker that no longer has the model,
// creates assignments for models the registry never recorded, and
// overwrites each worker's load counter to match its real resident count.
// Errors during a sweep are logged and left for the next tick, never
// retried within the same cycle.
package reconciler
