// Package metrics defines and registers fleetgate's Prometheus metrics:
// worker health, placement decisions, model load/unload calls, reconciler
// sweeps, and API request counts. All metrics are registered at package
// init and exposed via Handler() for scraping.
package metrics
