// Package accounts holds per-source trading overrides loaded from YAML.
package accounts

import (
	"errors"
	"fmt"
	"math"
	"os"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/lnlrnzn/trumptrader/internal/engine"
)

// DefaultMinConfidence applies when an account sets no threshold.
const DefaultMinConfidence = 75

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// ErrUnknownAccount is returned for usernames not in the registry.
var ErrUnknownAccount = errors.New("unknown account")

// Account is one monitored source.
type Account struct {
	Username               string   `yaml:"username" json:"username"`
	DisplayName            string   `yaml:"display_name" json:"display_name,omitempty"`
	Enabled                bool     `yaml:"enabled" json:"enabled"`
	ConfidenceMultiplier   float64  `yaml:"confidence_multiplier" json:"confidence_multiplier"`
	Symbols                []string `yaml:"symbols" json:"symbols,omitempty"`
	PositionSizePercent    *float64 `yaml:"position_size_percent" json:"position_size_percent,omitempty"`
	MinConfidenceThreshold *float64 `yaml:"min_confidence_threshold" json:"min_confidence_threshold,omitempty"`
	Leverage               *int     `yaml:"leverage" json:"leverage,omitempty"`
}

// File is the top-level YAML structure.
type File struct {
	Accounts []Account `yaml:"accounts"`
}

// Validate checks the fields an operator can get wrong.
func (a Account) Validate() error {
	if !usernamePattern.MatchString(a.Username) {
		return fmt.Errorf("invalid username %q (alphanumeric and underscore only, no @)", a.Username)
	}
	if a.ConfidenceMultiplier < 0 || a.ConfidenceMultiplier > 1 {
		return fmt.Errorf("account %s: confidence multiplier must be between 0 and 1", a.Username)
	}
	if a.PositionSizePercent != nil && (*a.PositionSizePercent <= 0 || *a.PositionSizePercent > 100) {
		return fmt.Errorf("account %s: position_size_percent must be in (0, 100]", a.Username)
	}
	if a.Leverage != nil && *a.Leverage <= 0 {
		return fmt.Errorf("account %s: leverage must be positive", a.Username)
	}
	return nil
}

// AdjustConfidence scales raw by the multiplier, capped at 100.
func (a Account) AdjustConfidence(raw float64) float64 {
	return math.Min(100, raw*a.ConfidenceMultiplier)
}

// Threshold is the minimum adjusted confidence for this account.
func (a Account) Threshold() float64 {
	if a.MinConfidenceThreshold != nil && *a.MinConfidenceThreshold > 0 {
		return *a.MinConfidenceThreshold
	}
	return DefaultMinConfidence
}

// Overrides converts the account settings to engine overrides.
func (a Account) Overrides() engine.Overrides {
	return engine.Overrides{
		Symbols:             append([]string(nil), a.Symbols...),
		PositionSizePercent: a.PositionSizePercent,
		Leverage:            a.Leverage,
	}
}

// Registry is a concurrency-safe lookup of accounts by username.
type Registry struct {
	mu       sync.RWMutex
	accounts map[string]Account
}

// NewRegistry builds a registry from validated accounts.
func NewRegistry(list []Account) (*Registry, error) {
	r := &Registry{accounts: make(map[string]Account, len(list))}
	for _, a := range list {
		a.Username = strings.TrimPrefix(strings.TrimSpace(a.Username), "@")
		if err := a.Validate(); err != nil {
			return nil, err
		}
		key := strings.ToLower(a.Username)
		if _, dup := r.accounts[key]; dup {
			return nil, fmt.Errorf("account %s already exists", a.Username)
		}
		r.accounts[key] = a
	}
	return r, nil
}

// Load reads a registry from a YAML file. An empty path yields an empty registry.
func Load(path string) (*Registry, error) {
	if path == "" {
		return NewRegistry(nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML registry content.
func Parse(data []byte) (*Registry, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse accounts: %w", err)
	}
	return NewRegistry(file.Accounts)
}

// Get looks up an account, ignoring case and a leading @.
func (r *Registry) Get(username string) (Account, error) {
	key := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(username), "@"))
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.accounts[key]
	if !ok {
		return Account{}, fmt.Errorf("%w: %s", ErrUnknownAccount, username)
	}
	return a, nil
}

// List returns every account.
func (r *Registry) List() []Account {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Account, 0, len(r.accounts))
	for _, a := range r.accounts {
		out = append(out, a)
	}
	return out
}

// Len returns the number of accounts.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.accounts)
}
