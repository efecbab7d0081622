// Package browser launches and tears down the Chrome instances backing
// automation sessions. Each session gets one container exposing a CDP
// endpoint; the caller attaches to it over the returned debugger URL.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

const chromeImage = "chromedp/headless-shell:latest"

// Instance is one running browser container.
type Instance struct {
	ContainerID string
	SessionID   string
	DebuggerURL string
	Port        string
	ProfileDir  string
}

// Pool creates and destroys browser containers through the Docker API.
type Pool struct {
	client *client.Client
}

// NewPool connects to the local Docker daemon.
func NewPool() (*Pool, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Pool{client: cli}, nil
}

// LaunchOptions configures a browser launch.
type LaunchOptions struct {
	SessionID  string
	ProfileDir string // host directory holding the user's Chrome profile
}

// Launch starts a headless Chrome container and waits until its CDP endpoint
// answers. The user's profile directory is bind-mounted so cookies survive
// across sessions.
func (p *Pool) Launch(ctx context.Context, opts LaunchOptions) (*Instance, error) {
	containerConfig := &container.Config{
		Image: chromeImage,
		Labels: map[string]string{
			"session-id": opts.SessionID,
			"managed-by": "applyflow",
		},
		Cmd: []string{
			"--no-sandbox",
			"--disable-gpu",
			"--remote-debugging-address=0.0.0.0",
			"--remote-debugging-port=9222",
			"--user-data-dir=/data",
		},
		ExposedPorts: nat.PortSet{
			"9222/tcp": struct{}{},
		},
	}

	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			"9222/tcp": []nat.PortBinding{
				{
					HostIP:   "127.0.0.1",
					HostPort: "0",
				},
			},
		},
		AutoRemove: false,
	}

	if opts.ProfileDir != "" {
		hostConfig.Mounts = []mount.Mount{
			{
				Type:   mount.TypeBind,
				Source: opts.ProfileDir,
				Target: "/data",
			},
		}
	}

	resp, err := p.client.ContainerCreate(
		ctx,
		containerConfig,
		hostConfig,
		nil,
		nil,
		fmt.Sprintf("applyflow-%s", shortID(opts.SessionID)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	if err := p.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	inspect, err := p.client.ContainerInspect(ctx, resp.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect container: %w", err)
	}

	bindings := inspect.NetworkSettings.Ports["9222/tcp"]
	if len(bindings) == 0 {
		return nil, fmt.Errorf("no host port bound for container %s", resp.ID)
	}
	port := bindings[0].HostPort

	debuggerURL, err := waitForDebugger(port)
	if err != nil {
		return nil, fmt.Errorf("browser failed to become ready: %w", err)
	}

	return &Instance{
		ContainerID: resp.ID,
		SessionID:   opts.SessionID,
		DebuggerURL: debuggerURL,
		Port:        port,
		ProfileDir:  opts.ProfileDir,
	}, nil
}

// Stop stops and removes the container. The caller treats failures as
// best-effort; a container that already exited still gets removed.
func (p *Pool) Stop(ctx context.Context, containerID string) error {
	timeout := 10
	stopOptions := container.StopOptions{Timeout: &timeout}

	if err := p.client.ContainerStop(ctx, containerID, stopOptions); err != nil {
		return fmt.Errorf("failed to stop container: %w", err)
	}

	if err := p.client.ContainerRemove(ctx, containerID, container.RemoveOptions{}); err != nil {
		return fmt.Errorf("failed to remove container: %w", err)
	}

	return nil
}

// EnsureImage pulls the Chrome image if it is not present locally.
func (p *Pool) EnsureImage(ctx context.Context) error {
	images, err := p.client.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return err
	}

	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == chromeImage {
				return nil
			}
		}
	}

	reader, err := p.client.ImagePull(ctx, chromeImage, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

func (p *Pool) Close() error {
	return p.client.Close()
}

// waitForDebugger polls /json/version until Chrome answers, then returns the
// webSocketDebuggerUrl it advertises.
func waitForDebugger(port string) (string, error) {
	url := fmt.Sprintf("http://127.0.0.1:%s/json/version", port)
	maxRetries := 20 // 10 seconds total

	for i := 0; i < maxRetries; i++ {
		resp, err := http.Get(url)
		if err == nil {
			var version struct {
				WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
			}
			decodeErr := json.NewDecoder(resp.Body).Decode(&version)
			resp.Body.Close()
			if decodeErr == nil && version.WebSocketDebuggerURL != "" {
				return version.WebSocketDebuggerURL, nil
			}
		}
		time.Sleep(500 * time.Millisecond)
	}

	return "", fmt.Errorf("debugger did not answer after %d retries", maxRetries)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
