package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
)

// rodPage adapts a *rod.Page to the Page interface.
type rodPage struct {
	page *rod.Page
}

// NewRodPage wraps an attached rod page.
func NewRodPage(page *rod.Page) Page {
	return &rodPage{page: page}
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	if err := p.page.Context(ctx).Navigate(url); err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	return p.page.Context(ctx).WaitLoad()
}

func (p *rodPage) URL(ctx context.Context) (string, error) {
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("page info: %w", err)
	}
	return info.URL, nil
}

func (p *rodPage) Click(ctx context.Context, selector string, timeout time.Duration) error {
	el, err := p.page.Context(ctx).Timeout(timeout).Element(selector)
	if err != nil {
		return fmt.Errorf("element not found: %w", err)
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

func (p *rodPage) ClickAt(ctx context.Context, x, y float64) error {
	mouse := p.page.Context(ctx).Mouse
	if err := mouse.MoveTo(proto.Point{X: x, Y: y}); err != nil {
		return fmt.Errorf("mouse move: %w", err)
	}
	return mouse.Click(proto.InputMouseButtonLeft, 1)
}

// Type clears the target field, then inserts the text one rune at a time with
// a delay between keystrokes to mimic human input.
func (p *rodPage) Type(ctx context.Context, selector, text string, delay time.Duration) error {
	el, err := p.page.Context(ctx).Timeout(5 * time.Second).Element(selector)
	if err != nil {
		return fmt.Errorf("element not found: %w", err)
	}
	if err := el.SelectAllText(); err != nil {
		return fmt.Errorf("select text: %w", err)
	}
	for _, r := range text {
		if err := el.Input(string(r)); err != nil {
			return fmt.Errorf("input: %w", err)
		}
		time.Sleep(delay)
	}
	return nil
}

func (p *rodPage) Press(ctx context.Context, key string) error {
	return p.page.Context(ctx).Keyboard.Press(keyFromName(key))
}

func (p *rodPage) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	return p.page.Context(ctx).Screenshot(fullPage, nil)
}

func (p *rodPage) Eval(ctx context.Context, js string) (string, error) {
	res, err := p.page.Context(ctx).Eval(js)
	if err != nil {
		return "", fmt.Errorf("eval: %w", err)
	}
	return res.Value.JSON("", ""), nil
}

func (p *rodPage) Has(ctx context.Context, selector string) (bool, error) {
	has, _, err := p.page.Context(ctx).Has(selector)
	return has, err
}

func (p *rodPage) Close() error {
	return p.page.Close()
}

// keyFromName maps the wire key name to a rod input key. Unknown single-rune
// names press that rune directly; the zero name defaults to Enter.
func keyFromName(name string) input.Key {
	switch strings.ToLower(name) {
	case "", "enter":
		return input.Enter
	case "tab":
		return input.Tab
	case "escape", "esc":
		return input.Escape
	case "backspace":
		return input.Backspace
	case "arrowup", "up":
		return input.ArrowUp
	case "arrowdown", "down":
		return input.ArrowDown
	case "arrowleft", "left":
		return input.ArrowLeft
	case "arrowright", "right":
		return input.ArrowRight
	default:
		runes := []rune(name)
		return input.Key(runes[0])
	}
}
