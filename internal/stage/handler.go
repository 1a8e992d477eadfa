// Package stage defines the contract between the worker pool and the
// pipeline stages it dispatches to.
package stage

import (
	"context"

	"glossa/internal/store"
)

// Handler processes queue messages for one pipeline stage. Execute must be
// idempotent under redelivery: a message whose work already happened is
// acknowledged without effect.
type Handler interface {
	Stage() store.Stage
	Execute(context.Context, *store.QueueMessage) error
	HealthCheck(context.Context) Health
}

// Health summarizes the readiness of a pipeline stage.
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

// Healthy constructs a ready Health record.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy constructs an unhealthy Health record with context detail.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Ready: false, Detail: detail}
}
