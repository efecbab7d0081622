package browser

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

var profileNameRe = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// Profiles hands out per-user Chrome profile directories under a data root.
// A user's cookies and login state live here, so both the automation browser
// and the verification portal browser see the same signed-in state. This is
// the only durable state in the system.
type Profiles struct {
	root string
}

// NewProfiles creates the data root if needed.
func NewProfiles(root string) (*Profiles, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create profile root: %w", err)
	}
	return &Profiles{root: root}, nil
}

// Dir returns (creating if absent) the profile directory for a user.
func (p *Profiles) Dir(userID string) (string, error) {
	safe := profileNameRe.ReplaceAllString(userID, "_")
	if safe == "" {
		return "", fmt.Errorf("invalid user id for profile")
	}
	dir := filepath.Join(p.root, safe)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create profile dir: %w", err)
	}
	return dir, nil
}
