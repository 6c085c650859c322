// Package store declares the repository for the per-job event history shown
// on the dashboard timeline.
package store
