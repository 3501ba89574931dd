// Package types defines fleetgate's domain model: WorkerID, Worker,
// ModelKey, Assignment, LoadCounter, and the typed Error/ErrorKind the
// frontend maps to HTTP status codes.
package types
