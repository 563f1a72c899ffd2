// ABOUTME: Docker engine implementation of the runtime client.
// ABOUTME: Wraps the docker API client with snapshot mapping and per-call timeouts.

package runtime

import (
	"context"
	"strings"
	"time"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/sirupsen/logrus"

	"github.com/docksentry/docksentry/internal/types"
)

// callTimeout bounds every non-streaming engine call. The engine itself does
// not enforce one.
const callTimeout = 10 * time.Second

// DockerClient is the Docker engine implementation of Client.
type DockerClient struct {
	api    *client.Client
	logger *logrus.Logger
}

// NewDockerClient connects to the engine from the environment (DOCKER_HOST
// or the default control socket) with API version negotiation.
func NewDockerClient(logger *logrus.Logger) (*DockerClient, error) {
	api, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	return &DockerClient{api: api, logger: logger}, nil
}

// Events subscribes to container and image events and adapts them to the
// daemon's event shape.
func (d *DockerClient) Events(ctx context.Context) (<-chan Event, <-chan error) {
	args := filters.NewArgs()
	args.Add("type", TypeContainer)
	args.Add("type", TypeImage)

	messages, errs := d.api.Events(ctx, dockertypes.EventsOptions{Filters: args})

	out := make(chan Event)
	go forward(ctx, messages, out)
	return out, errs
}

// forward adapts engine messages onto out until the stream or the context
// ends. The engine never closes its message channel on stream errors, so the
// context is the only exit path after a disconnect; callers must cancel it
// before resubscribing.
func forward(ctx context.Context, messages <-chan events.Message, out chan<- Event) {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			select {
			case out <- adaptEvent(msg):
			case <-ctx.Done():
				return
			}
		}
	}
}

func adaptEvent(msg events.Message) Event {
	ev := Event{
		Type:   string(msg.Type),
		Action: string(msg.Action),
		ID:     msg.Actor.ID,
	}
	if image, ok := msg.Actor.Attributes["image"]; ok {
		ev.Image = image
	}
	if ev.Type == TypeImage && ev.Image == "" {
		// For image events the actor id is the image reference itself.
		ev.Image = msg.Actor.ID
	}
	return ev
}

// Inspect captures a container snapshot.
func (d *DockerClient) Inspect(ctx context.Context, containerID string) (*types.ContainerSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	meta, err := d.api.ContainerInspect(ctx, containerID)
	if err != nil {
		return nil, err
	}

	snapshot := &types.ContainerSnapshot{
		ID:          meta.ID,
		Name:        strings.TrimPrefix(meta.Name, "/"),
		ImageDigest: meta.Image,
		Created:     meta.Created,
	}
	if meta.Config != nil {
		snapshot.Image = meta.Config.Image
		snapshot.User = strings.TrimSpace(meta.Config.User)
		for _, kv := range meta.Config.Env {
			name, _, _ := strings.Cut(kv, "=")
			snapshot.EnvNames = append(snapshot.EnvNames, name)
		}
	}
	if meta.HostConfig != nil {
		snapshot.Mounts = append(snapshot.Mounts, meta.HostConfig.Binds...)
		snapshot.CapAdd = append(snapshot.CapAdd, meta.HostConfig.CapAdd...)
		snapshot.CapDrop = append(snapshot.CapDrop, meta.HostConfig.CapDrop...)
		snapshot.Privileged = meta.HostConfig.Privileged
		snapshot.SecurityOpts = append(snapshot.SecurityOpts, meta.HostConfig.SecurityOpt...)
	}
	if meta.NetworkSettings != nil {
		for name := range meta.NetworkSettings.Networks {
			snapshot.Networks = append(snapshot.Networks, name)
		}
	}
	return snapshot, nil
}

// Stop stops a container with the given grace period.
func (d *DockerClient) Stop(ctx context.Context, containerID string, graceSeconds int) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout+time.Duration(graceSeconds)*time.Second)
	defer cancel()
	return d.api.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &graceSeconds})
}

// Remove forcefully removes a container.
func (d *DockerClient) Remove(ctx context.Context, containerID string) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	return d.api.ContainerRemove(ctx, containerID, dockertypes.ContainerRemoveOptions{Force: true})
}

// KillProcess terminates a named process inside a running container via a
// detached exec.
func (d *DockerClient) KillProcess(ctx context.Context, containerID, processName string) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	exec, err := d.api.ContainerExecCreate(ctx, containerID, dockertypes.ExecConfig{
		User: "root",
		Cmd:  []string{"pkill", "-9", "-x", processName},
	})
	if err != nil {
		return err
	}
	return d.api.ContainerExecStart(ctx, exec.ID, dockertypes.ExecStartCheck{Detach: true})
}

// Ping reports engine reachability.
func (d *DockerClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	_, err := d.api.Ping(ctx)
	return err
}

// Version returns the engine version string.
func (d *DockerClient) Version(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	v, err := d.api.ServerVersion(ctx)
	if err != nil {
		return "", err
	}
	return v.Version, nil
}

func isNotFound(err error) bool {
	return client.IsErrNotFound(err)
}
