package portal

import (
	"fmt"
	"log"
	"net"
	"os/exec"
	"time"
)

// DisplayConfig describes the shared virtual display the portal browsers
// render to.
type DisplayConfig struct {
	Num     int // X display number, e.g. 99 for :99
	VNCPort int // x11vnc rfb port
	WSPort  int // websockify port serving the noVNC client
	Width   int
	Height  int
}

// DefaultDisplayConfig matches the production portal host.
func DefaultDisplayConfig() DisplayConfig {
	return DisplayConfig{
		Num:     99,
		VNCPort: 5900,
		WSPort:  6080,
		Width:   1280,
		Height:  800,
	}
}

// Display is the process-wide display surface: one Xvfb framebuffer, a window
// manager, a VNC server and a websocket bridge, started once at process
// startup and shared by all portal sessions.
type Display struct {
	cfg  DisplayConfig
	cmds []*exec.Cmd
}

// StartDisplay launches the display stack and waits for the websocket bridge
// to accept connections.
func StartDisplay(cfg DisplayConfig) (*Display, error) {
	d := &Display{cfg: cfg}
	display := d.Name()

	steps := []struct {
		name string
		cmd  *exec.Cmd
	}{
		{"Xvfb", exec.Command("Xvfb", display, "-screen", "0",
			fmt.Sprintf("%dx%dx24", cfg.Width, cfg.Height))},
		{"fluxbox", exec.Command("fluxbox", "-display", display)},
		{"x11vnc", exec.Command("x11vnc", "-display", display, "-forever",
			"-shared", "-nopw", "-quiet", "-rfbport", fmt.Sprintf("%d", cfg.VNCPort))},
		{"websockify", exec.Command("websockify", "--web", "/usr/share/novnc",
			fmt.Sprintf("%d", cfg.WSPort), fmt.Sprintf("localhost:%d", cfg.VNCPort))},
	}

	for _, step := range steps {
		if err := step.cmd.Start(); err != nil {
			d.Stop()
			return nil, fmt.Errorf("failed to start %s: %w", step.name, err)
		}
		d.cmds = append(d.cmds, step.cmd)
		// Give each layer a moment before starting the one above it.
		time.Sleep(500 * time.Millisecond)
	}

	if err := waitForPort(cfg.WSPort, 10*time.Second); err != nil {
		d.Stop()
		return nil, fmt.Errorf("display stack not ready: %w", err)
	}

	return d, nil
}

// Name returns the X display name, e.g. ":99".
func (d *Display) Name() string {
	return fmt.Sprintf(":%d", d.cfg.Num)
}

// WSPort returns the websockify port the noVNC proxy targets.
func (d *Display) WSPort() int {
	return d.cfg.WSPort
}

// Stop kills the display processes in reverse start order. Best-effort.
func (d *Display) Stop() {
	for i := len(d.cmds) - 1; i >= 0; i-- {
		cmd := d.cmds[i]
		if cmd.Process == nil {
			continue
		}
		if err := cmd.Process.Kill(); err != nil {
			log.Printf("killing display process: %v", err)
		}
		cmd.Wait()
	}
	d.cmds = nil
}

// waitForPort polls until something accepts TCP connections on the port.
func waitForPort(port int, timeout time.Duration) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, time.Second)
		if err == nil {
			conn.Close()
			return nil
		}
		time.Sleep(250 * time.Millisecond)
	}
	return fmt.Errorf("nothing listening on %s after %s", addr, timeout)
}
