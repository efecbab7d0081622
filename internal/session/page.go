package session

import (
	"context"
	"strings"
	"time"
)

// Page is the surface of a live browser tab the workflow and the checkpoint
// action API drive. The production implementation speaks CDP through rod;
// tests substitute a scripted fake.
type Page interface {
	Navigate(ctx context.Context, url string) error
	URL(ctx context.Context) (string, error)
	Click(ctx context.Context, selector string, timeout time.Duration) error
	ClickAt(ctx context.Context, x, y float64) error
	Type(ctx context.Context, selector, text string, delay time.Duration) error
	Press(ctx context.Context, key string) error
	Screenshot(ctx context.Context, fullPage bool) ([]byte, error)
	Eval(ctx context.Context, js string) (string, error)
	Has(ctx context.Context, selector string) (bool, error)
	Close() error
}

// verificationMarkers are URL fragments LinkedIn uses for its human
// verification walls (challenge pages, 2FA prompts, auth walls).
var verificationMarkers = []string{
	"/checkpoint/challenge",
	"/checkpoint/rp/",
	"/checkpoint/lg/",
	"/uas/",
	"/authwall",
	"captcha",
}

// IsVerificationURL reports whether a page URL indicates the automation is
// blocked behind a human verification challenge.
func IsVerificationURL(u string) bool {
	lower := strings.ToLower(u)
	for _, marker := range verificationMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
