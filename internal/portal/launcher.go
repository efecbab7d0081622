package portal

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/applyflow/applyflow/internal/browser"
)

// ChromeLauncher launches a visible Chrome on the shared display, bound to
// the user's persistent profile directory so cookies carry over from (and
// back to) the automation browser.
type ChromeLauncher struct {
	Profiles *browser.Profiles
	Display  string // X display name, e.g. ":99"
}

type chromeBrowser struct {
	browser *rod.Browser
	launch  *launcher.Launcher
}

func (c *chromeBrowser) Close() error {
	err := c.browser.Close()
	c.launch.Kill()
	return err
}

func (l *ChromeLauncher) Launch(ctx context.Context, userID, url string) (Browser, error) {
	profileDir, err := l.Profiles.Dir(userID)
	if err != nil {
		return nil, err
	}

	launch := launcher.New().
		Headless(false).
		UserDataDir(profileDir).
		Env(append(os.Environ(), "DISPLAY="+l.Display)...)

	controlURL, err := launch.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chrome: %w", err)
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		launch.Kill()
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}

	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		if closeErr := b.Close(); closeErr != nil {
			log.Printf("closing portal browser after page failure: %v", closeErr)
		}
		launch.Kill()
		return nil, fmt.Errorf("create page: %w", err)
	}

	if err := page.Timeout(30 * time.Second).Navigate(url); err != nil {
		log.Printf("warning: portal navigation to %s: %v", url, err)
	}

	return &chromeBrowser{browser: b, launch: launch}, nil
}
