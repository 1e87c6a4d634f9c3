package spawner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	dockerclient "github.com/docker/docker/client"
)

const (
	labelManagedBy = "switchboard.managed-by"
	labelSessionID = "switchboard.session-id"
	labelButler    = "switchboard.butler"
	managedByValue = "spawner"

	// sessionStopGrace is the SIGTERM-to-SIGKILL window for a cancelled
	// session container (spec.md §4.5: "cooperative at the CLI boundary").
	sessionStopGrace = 10 * time.Second

	defaultNetwork = "switchboard"
)

// SessionSpec describes one ephemeral LLM CLI session to spawn.
type SessionSpec struct {
	ID            string
	Butler        string
	Image         string
	Prompt        string
	TriggerSource string
	RequestID     string
	MCPEndpoint   string
	AllowedTools  []string
	Env           map[string]string
}

// SessionOutcome is what the runtime observed when the session container
// exited (or was cancelled).
type SessionOutcome struct {
	ExitCode int
	Success  bool
	Error    string
}

// Runtime spawns one ephemeral session and blocks until it exits or ctx is
// cancelled/expires, at which point it sends SIGTERM then SIGKILL.
type Runtime interface {
	RunSession(ctx context.Context, spec SessionSpec) (SessionOutcome, error)
}

// DockerRuntime runs each session as a fresh, single-use container: no
// restart policy, no auto-remove (force-removed explicitly when RunSession
// returns; its logs are not read), generalized from
// internal/ruriko/runtime/docker/adapter.go's long-lived agent container to
// a one-shot ephemeral process.
type DockerRuntime struct {
	client  *dockerclient.Client
	network string
}

// NewDockerRuntime builds a DockerRuntime using DOCKER_HOST or the default
// socket.
func NewDockerRuntime() (*DockerRuntime, error) {
	cli, err := dockerclient.NewClientWithOpts(
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &DockerRuntime{client: cli, network: defaultNetwork}, nil
}

func sessionContainerName(id string) string {
	return "switchboard-session-" + id
}

// RunSession creates, starts, and waits on a session container. Tools reach
// back to the butler's MCP server over the network named by d.network; the
// CLI's ambient tool set is whatever spec.AllowedTools the caller passes, not
// anything ambient to the spawner itself.
func (d *DockerRuntime) RunSession(ctx context.Context, spec SessionSpec) (SessionOutcome, error) {
	env := []string{
		"SWITCHBOARD_SESSION_ID=" + spec.ID,
		"SWITCHBOARD_BUTLER=" + spec.Butler,
		"SWITCHBOARD_PROMPT=" + spec.Prompt,
		"SWITCHBOARD_TRIGGER_SOURCE=" + spec.TriggerSource,
		"SWITCHBOARD_MCP_ENDPOINT=" + spec.MCPEndpoint,
		"SWITCHBOARD_ALLOWED_TOOLS=" + strings.Join(spec.AllowedTools, ","),
	}
	if spec.RequestID != "" {
		env = append(env, "SWITCHBOARD_REQUEST_ID="+spec.RequestID)
	}
	for k, v := range spec.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	labels := map[string]string{
		labelManagedBy: managedByValue,
		labelSessionID: spec.ID,
		labelButler:    spec.Butler,
	}

	containerCfg := &container.Config{Image: spec.Image, Env: env, Labels: labels}
	hostCfg := &container.HostConfig{RestartPolicy: container.RestartPolicy{Name: "no"}}
	networkCfg := &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{d.network: {}},
	}

	resp, err := d.client.ContainerCreate(ctx, containerCfg, hostCfg, networkCfg, nil, sessionContainerName(spec.ID))
	if err != nil {
		return SessionOutcome{}, fmt.Errorf("create session container: %w", err)
	}
	defer func() {
		_ = d.client.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true})
	}()

	if err := d.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return SessionOutcome{}, fmt.Errorf("start session container: %w", err)
	}

	statusCh, errCh := d.client.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			d.cancelGraceful(resp.ID)
			return SessionOutcome{}, fmt.Errorf("wait session container: %w", err)
		}
		return SessionOutcome{}, nil
	case status := <-statusCh:
		outcome := SessionOutcome{ExitCode: int(status.StatusCode), Success: status.StatusCode == 0}
		if status.Error != nil {
			outcome.Error = status.Error.Message
		}
		return outcome, nil
	case <-ctx.Done():
		d.cancelGraceful(resp.ID)
		return SessionOutcome{}, ctx.Err()
	}
}

// cancelGraceful sends SIGTERM, waiting up to sessionStopGrace before Docker
// escalates to SIGKILL. Uses a background context: the caller's ctx is
// already done, so it can't be used for the stop call itself.
func (d *DockerRuntime) cancelGraceful(containerID string) {
	timeout := int(sessionStopGrace.Seconds())
	_ = d.client.ContainerStop(context.Background(), containerID, container.StopOptions{Timeout: &timeout})
}
