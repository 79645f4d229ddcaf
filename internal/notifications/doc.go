// Package notifications pushes ingest alerts to an ntfy topic.
//
// Alerts fire when a file is marked known-bad or hits an unknown column, and
// after a one-shot run that dispatched files. With no topic configured
// NewService returns a no-op implementation.
package notifications
