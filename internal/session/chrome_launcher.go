package session

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/applyflow/applyflow/internal/browser"
)

// ChromeLauncher launches a containerized headless Chrome per session and
// attaches rod to its CDP endpoint. The user's persistent profile directory
// is mounted into the container so login cookies survive restarts.
type ChromeLauncher struct {
	Pool     *browser.Pool
	Profiles *browser.Profiles
}

func (l *ChromeLauncher) Launch(ctx context.Context, userID, sessionID string) (Page, func(), error) {
	profileDir, err := l.Profiles.Dir(userID)
	if err != nil {
		return nil, nil, err
	}

	inst, err := l.Pool.Launch(ctx, browser.LaunchOptions{
		SessionID:  sessionID,
		ProfileDir: profileDir,
	})
	if err != nil {
		return nil, nil, err
	}

	b := rod.New().ControlURL(inst.DebuggerURL)
	if err := b.Connect(); err != nil {
		l.stopContainer(inst.ContainerID)
		return nil, nil, fmt.Errorf("connect to chrome: %w", err)
	}

	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		if closeErr := b.Close(); closeErr != nil {
			log.Printf("closing browser after page failure: %v", closeErr)
		}
		l.stopContainer(inst.ContainerID)
		return nil, nil, fmt.Errorf("create page: %w", err)
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             1366,
		Height:            900,
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		log.Printf("warning: failed to set viewport: %v", err)
	}

	closeFn := func() {
		if err := page.Close(); err != nil {
			log.Printf("closing page for session %s: %v", sessionID, err)
		}
		if err := b.Close(); err != nil {
			log.Printf("closing browser for session %s: %v", sessionID, err)
		}
		l.stopContainer(inst.ContainerID)
	}

	return NewRodPage(page), closeFn, nil
}

func (l *ChromeLauncher) stopContainer(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := l.Pool.Stop(ctx, containerID); err != nil {
		log.Printf("warning: failed to stop container %s: %v", containerID, err)
	}
}
