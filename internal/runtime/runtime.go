// ABOUTME: Runtime collaborator boundary for the container engine.
// ABOUTME: Defines the client interface and event shape consumed by the daemon.

package runtime

import (
	"context"

	"github.com/docksentry/docksentry/internal/types"
)

// Event kinds and actions relevant to the ingestion loop.
const (
	TypeContainer = "container"
	TypeImage     = "image"

	ActionCreate  = "create"
	ActionStart   = "start"
	ActionRestart = "restart"
	ActionPull    = "pull"
)

// Event is one runtime lifecycle event.
type Event struct {
	Type   string
	Action string
	ID     string
	Image  string
}

// Client abstracts the container engine. Implementations apply a sane
// per-call timeout to every operation.
type Client interface {
	// Events opens the runtime's event stream. The channels close when the
	// context is cancelled or the stream disconnects.
	Events(ctx context.Context) (<-chan Event, <-chan error)

	// Inspect captures a point-in-time snapshot of a container.
	Inspect(ctx context.Context, containerID string) (*types.ContainerSnapshot, error)

	// Stop stops a container with the given grace period in seconds.
	Stop(ctx context.Context, containerID string, graceSeconds int) error

	// Remove forcefully removes a container.
	Remove(ctx context.Context, containerID string) error

	// KillProcess terminates a named process inside a running container.
	KillProcess(ctx context.Context, containerID, processName string) error

	// Ping reports whether the runtime is reachable.
	Ping(ctx context.Context) error

	// Version returns the runtime's version string, best effort.
	Version(ctx context.Context) (string, error)
}

// IsNotFound reports whether err is the runtime's not-found error.
func IsNotFound(err error) bool {
	return isNotFound(err)
}
