package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/applyflow/applyflow/pkg/models"
)

// fakePage is a scripted Page. Navigation records the requested URL; the
// "current" URL can be overridden to simulate redirects to verification walls.
type fakePage struct {
	mu         sync.Mutex
	currentURL string
	redirects  map[string]string // navigate target -> URL the browser lands on
	evalResult string
	evalErr    error
	clickErr   error
	typed      []string
	pressed    []string
	clicked    []string
	closed     bool
}

func newFakePage() *fakePage {
	return &fakePage{redirects: make(map[string]string)}
}

func (p *fakePage) Navigate(_ context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if landed, ok := p.redirects[url]; ok {
		p.currentURL = landed
	} else {
		p.currentURL = url
	}
	return nil
}

func (p *fakePage) URL(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentURL, nil
}

func (p *fakePage) setURL(u string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.currentURL = u
}

func (p *fakePage) Click(_ context.Context, selector string, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.clickErr != nil {
		return p.clickErr
	}
	p.clicked = append(p.clicked, selector)
	return nil
}

func (p *fakePage) ClickAt(_ context.Context, x, y float64) error {
	return nil
}

func (p *fakePage) Type(_ context.Context, selector, text string, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.typed = append(p.typed, text)
	return nil
}

func (p *fakePage) Press(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pressed = append(p.pressed, key)
	return nil
}

func (p *fakePage) Screenshot(context.Context, bool) ([]byte, error) {
	return []byte("\x89PNG fake"), nil
}

func (p *fakePage) Eval(context.Context, string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.evalErr != nil {
		return "", p.evalErr
	}
	return p.evalResult, nil
}

func (p *fakePage) Has(context.Context, string) (bool, error) {
	return true, nil
}

func (p *fakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("already closed")
	}
	p.closed = true
	return nil
}

// fakeLauncher hands out fake pages and counts launches and teardowns.
type fakeLauncher struct {
	mu        sync.Mutex
	launches  int
	teardowns int
	pages     []*fakePage
	launchErr error
}

func (l *fakeLauncher) Launch(_ context.Context, userID, sessionID string) (Page, func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.launchErr != nil {
		return nil, nil, l.launchErr
	}
	l.launches++
	page := newFakePage()
	l.pages = append(l.pages, page)
	return page, func() {
		l.mu.Lock()
		l.teardowns++
		l.mu.Unlock()
	}, nil
}

// countingNotifier records the event types broadcast per user.
type countingNotifier struct {
	mu     sync.Mutex
	events map[string][]string
}

func newCountingNotifier() *countingNotifier {
	return &countingNotifier{events: make(map[string][]string)}
}

func (n *countingNotifier) BroadcastToUser(userID string, event models.Event) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events[userID] = append(n.events[userID], event.Type)
	return 0
}

func (n *countingNotifier) typesFor(userID string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events[userID]...)
}
