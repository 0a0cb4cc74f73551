// Package profile maintains the notebook owner's profile: a small set of
// persisted keys describing who the owner is and what they are researching,
// assembled into a typed Profile and folded into extraction context.
package profile

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// ProfileStore persists profile keys. Implemented by storage.Store.
type ProfileStore interface {
	SetProfileKey(key, value string) error
	GetProfileKey(key string) (string, error)
	GetAllProfileKeys() (map[string]string, error)
}

// Clock abstracts time for cache TTL tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Manager assembles the owner profile from persisted keys and caches the
// result for a short TTL so hot paths don't hit the store on every note.
type Manager struct {
	store ProfileStore
	clock Clock
	ttl   time.Duration

	mu       sync.RWMutex
	cached   *Profile
	cachedAt time.Time
}

// NewManager creates a profile manager with a 60-second cache TTL.
func NewManager(store ProfileStore) *Manager {
	return NewManagerWithClock(store, realClock{}, 60*time.Second)
}

// NewManagerWithClock creates a profile manager with an explicit clock and
// TTL. Used by tests.
func NewManagerWithClock(store ProfileStore, clock Clock, ttl time.Duration) *Manager {
	return &Manager{store: store, clock: clock, ttl: ttl}
}

// GetProfile returns the assembled profile, using the cache when fresh.
func (m *Manager) GetProfile() (*Profile, error) {
	m.mu.RLock()
	if m.cached != nil && m.clock.Now().Sub(m.cachedAt) < m.ttl {
		p := deepCopyProfile(m.cached)
		m.mu.RUnlock()
		return p, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Another goroutine may have refreshed while we waited for the lock.
	if m.cached != nil && m.clock.Now().Sub(m.cachedAt) < m.ttl {
		return deepCopyProfile(m.cached), nil
	}

	keys, err := m.store.GetAllProfileKeys()
	if err != nil {
		return nil, fmt.Errorf("loading profile keys: %w", err)
	}

	p := buildProfile(keys)
	m.cached = p
	m.cachedAt = m.clock.Now()
	return deepCopyProfile(p), nil
}

// SetField persists a single profile key and invalidates the cache. String
// values are stored as-is; everything else is JSON-encoded.
func (m *Manager) SetField(key string, value interface{}) error {
	var stored string
	switch v := value.(type) {
	case string:
		stored = v
	default:
		b, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("encoding profile value for %q: %w", key, err)
		}
		stored = string(b)
	}

	if err := m.store.SetProfileKey(key, stored); err != nil {
		return fmt.Errorf("saving profile key %q: %w", key, err)
	}

	m.mu.Lock()
	m.cached = nil
	m.mu.Unlock()
	return nil
}

// AsContext flattens the profile into extraction context fields. Empty
// fields are omitted so they don't show up as blank lines in prompts.
func (m *Manager) AsContext() (map[string]interface{}, error) {
	p, err := m.GetProfile()
	if err != nil {
		return nil, err
	}

	ctx := make(map[string]interface{})
	if p.Identity.Name != "" {
		ctx["owner_name"] = p.Identity.Name
	}
	if p.Identity.Role != "" {
		ctx["owner_role"] = p.Identity.Role
	}
	if p.Research.Focus != "" {
		ctx["research_focus"] = p.Research.Focus
	}
	if p.Research.Instructions != "" {
		ctx["research_instructions"] = p.Research.Instructions
	}
	if len(p.Interests) > 0 {
		ctx["owner_interests"] = p.Interests
	}
	if len(p.Priorities) > 0 {
		ctx["owner_priorities"] = p.Priorities
	}
	return ctx, nil
}

// GetSummary renders the profile as a short plain-text block.
func (m *Manager) GetSummary() (string, error) {
	p, err := m.GetProfile()
	if err != nil {
		return "", err
	}
	return summarize(p), nil
}

// maxSummaryChars caps the summary so it stays a small, predictable slice of
// any prompt it is embedded in.
const maxSummaryChars = 2000

func summarize(p *Profile) string {
	var parts []string

	switch {
	case p.Identity.Name != "" && p.Identity.Role != "":
		parts = append(parts, fmt.Sprintf("Owner: %s (%s).", p.Identity.Name, p.Identity.Role))
	case p.Identity.Name != "":
		parts = append(parts, fmt.Sprintf("Owner: %s.", p.Identity.Name))
	case p.Identity.Role != "":
		parts = append(parts, fmt.Sprintf("Role: %s.", p.Identity.Role))
	}

	if p.Research.Focus != "" {
		parts = append(parts, fmt.Sprintf("Research focus: %s.", p.Research.Focus))
	}
	if p.Research.Instructions != "" {
		parts = append(parts, fmt.Sprintf("Instructions: %s", p.Research.Instructions))
	}
	if len(p.Interests) > 0 {
		interests := append([]string(nil), p.Interests...)
		sort.Strings(interests)
		parts = append(parts, "Interests: "+strings.Join(interests, ", ")+".")
	}
	if len(p.Priorities) > 0 {
		parts = append(parts, "Priorities: "+strings.Join(p.Priorities, "; ")+".")
	}

	if len(parts) == 0 {
		return "Owner profile: not yet configured."
	}

	s := strings.Join(parts, " ")
	if len(s) <= maxSummaryChars {
		return s
	}

	// Truncate on a rune boundary, then back off to the last space so the
	// summary doesn't end mid-word.
	end := maxSummaryChars
	for end > 0 && !utf8.RuneStart(s[end]) {
		end--
	}
	if idx := strings.LastIndex(s[:end], " "); idx > 0 {
		end = idx
	}
	return s[:end] + "..."
}

func deepCopyProfile(p *Profile) *Profile {
	cp := &Profile{
		Identity: p.Identity,
		Research: p.Research,
	}
	if p.Interests != nil {
		cp.Interests = append([]string(nil), p.Interests...)
	}
	if p.Priorities != nil {
		cp.Priorities = append([]string(nil), p.Priorities...)
	}
	return cp
}

// buildProfile maps dot-notation keys onto the Profile struct. Unknown keys
// are ignored so old installs keep working after fields are renamed.
func buildProfile(keys map[string]string) *Profile {
	p := &Profile{}
	for key, value := range keys {
		switch key {
		case "identity.name":
			p.Identity.Name = value
		case "identity.role":
			p.Identity.Role = value
		case "research.focus":
			p.Research.Focus = value
		case "research.instructions":
			p.Research.Instructions = value
		case "interests":
			unmarshalProfileKey(key, value, &p.Interests)
		case "priorities":
			unmarshalProfileKey(key, value, &p.Priorities)
		}
	}
	return p
}

func unmarshalProfileKey(key, value string, dst interface{}) {
	if err := json.Unmarshal([]byte(value), dst); err != nil {
		slog.Warn("malformed profile key, skipping", "key", key, "error", err)
	}
}
