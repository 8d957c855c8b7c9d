package browser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/shehryarbajwa/imei-registry/internal/config"
)

const browserPort = "3000/tcp"

// DockerLauncher runs every instance in its own browserless container
type DockerLauncher struct {
	client        *client.Client
	image         string
	launchTimeout time.Duration
}

func NewDockerLauncher(cfg config.BrowserConfig) (*DockerLauncher, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	return &DockerLauncher{
		client:        cli,
		image:         cfg.Image,
		launchTimeout: cfg.LaunchTimeout,
	}, nil
}

func (d *DockerLauncher) Launch(ctx context.Context, id string) (*Instance, error) {
	containerConfig := &container.Config{
		Image: d.image,
		Labels: map[string]string{
			"session-id": id,
			"managed-by": "imei-registry",
		},
		Env: []string{
			"CONNECTION_TIMEOUT=-1",
			"MAX_CONCURRENT_SESSIONS=1",
			"PREBOOT_CHROME=true",
			"EXIT_ON_HEALTH_FAILURE=false",
		},
		ExposedPorts: nat.PortSet{
			browserPort: struct{}{},
		},
	}

	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			browserPort: []nat.PortBinding{
				{
					HostIP:   "127.0.0.1",
					HostPort: "0",
				},
			},
		},
		AutoRemove: false,
	}

	resp, err := d.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, containerName(id))
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	if err := d.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		d.stop(resp.ID)
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	inspect, err := d.client.ContainerInspect(ctx, resp.ID)
	if err != nil {
		d.stop(resp.ID)
		return nil, fmt.Errorf("failed to inspect container: %w", err)
	}

	bindings := inspect.NetworkSettings.Ports[browserPort]
	if len(bindings) == 0 {
		d.stop(resp.ID)
		return nil, fmt.Errorf("container %s exposes no browser port", resp.ID[:12])
	}
	port := bindings[0].HostPort

	if err := waitForBrowserReady(ctx, port); err != nil {
		d.stop(resp.ID)
		return nil, fmt.Errorf("browser failed to become ready: %w", err)
	}

	inst, err := connectRemote(ctx, id, fmt.Sprintf("ws://127.0.0.1:%s", port), d.launchTimeout)
	if err != nil {
		d.stop(resp.ID)
		return nil, err
	}
	inst.ContainerID = resp.ID
	inst.release = func() error {
		return d.stop(resp.ID)
	}

	return inst, nil
}

// stop removes a container. It runs on a fresh context because it is
// called while tearing down after the caller's context may be gone.
func (d *DockerLauncher) stop(containerID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	timeout := 10
	if err := d.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("failed to stop container: %w", err)
	}
	if err := d.client.ContainerRemove(ctx, containerID, container.RemoveOptions{}); err != nil {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}

// EnsureImage pulls the browser image if it is not present locally
func (d *DockerLauncher) EnsureImage(ctx context.Context) error {
	images, err := d.client.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return err
	}

	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == d.image {
				return nil
			}
		}
	}

	reader, err := d.client.ImagePull(ctx, d.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

func (d *DockerLauncher) Close() error {
	return d.client.Close()
}

func containerName(id string) string {
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("imei-browser-%s", id)
}

// waitForBrowserReady polls the /json/version endpoint until the browser
// inside the container answers.
func waitForBrowserReady(ctx context.Context, port string) error {
	url := fmt.Sprintf("http://127.0.0.1:%s/json/version", port)
	maxRetries := 20 // 10 seconds total (20 * 500ms)

	for i := 0; i < maxRetries; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}

	return fmt.Errorf("browser did not become ready after %d retries", maxRetries)
}
