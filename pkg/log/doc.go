// Package log provides fleetgate's structured logging on top of zerolog: a
// global Logger initialized via Init(Config), and WithComponent/WithWorkerID
// helpers for tagging log lines with the subsystem or worker they concern.
package log
