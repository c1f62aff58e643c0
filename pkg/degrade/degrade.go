package degrade

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Level of a switch
type Level string

const (
	LevelNormal    Level = "normal"
	LevelSuspended Level = "suspended"
)

// Scopes switched by the API
const (
	ScopeCheckout = "checkout"
	ScopeCart     = "cart"
)

const keyPrefix = "degrade:"

// ErrInvalidLevel unknown level string
var ErrInvalidLevel = errors.New("invalid degrade level")

// ParseLevel validates a level string
func ParseLevel(s string) (Level, error) {
	switch Level(strings.ToLower(s)) {
	case LevelNormal:
		return LevelNormal, nil
	case LevelSuspended:
		return LevelSuspended, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidLevel, s)
	}
}

// Switch state of one scope
type Switch struct {
	Scope     string    `json:"scope"`
	Level     Level     `json:"level"`
	Reason    string    `json:"reason,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Suspended reports whether traffic for the scope must be refused
func (s Switch) Suspended() bool {
	return s.Level == LevelSuspended
}

// Manager keeps named switches in memory and mirrors them to Redis so every
// instance converges on the same state. Reads never touch Redis.
type Manager struct {
	redis redis.UniversalClient

	mu       sync.RWMutex
	switches map[string]Switch
}

// NewManager creates a manager; client may be nil for a single instance
func NewManager(client redis.UniversalClient) *Manager {
	return &Manager{
		redis:    client,
		switches: make(map[string]Switch),
	}
}

// IsSuspended checks the local view of scope
func (m *Manager) IsSuspended(scope string) bool {
	if m == nil {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.switches[scope].Suspended()
}

// Get returns the switch of scope; unknown scopes are normal
func (m *Manager) Get(scope string) Switch {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if s, ok := m.switches[scope]; ok {
		return s
	}
	return Switch{Scope: scope, Level: LevelNormal}
}

// All returns every known switch
func (m *Manager) All() []Switch {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]Switch, 0, len(m.switches))
	for _, s := range m.switches {
		all = append(all, s)
	}
	return all
}

// Set changes a switch locally and in Redis
func (m *Manager) Set(ctx context.Context, scope string, level Level, reason string) (Switch, error) {
	s := Switch{
		Scope:     scope,
		Level:     level,
		Reason:    reason,
		UpdatedAt: time.Now().UTC(),
	}

	if m.redis != nil {
		key := keyPrefix + scope
		var err error
		if level == LevelNormal {
			err = m.redis.Del(ctx, key).Err()
		} else {
			var data []byte
			data, err = json.Marshal(s)
			if err == nil {
				err = m.redis.Set(ctx, key, data, 0).Err()
			}
		}
		if err != nil {
			return Switch{}, fmt.Errorf("failed to persist degrade switch %s: %w", scope, err)
		}
	}

	m.mu.Lock()
	if level == LevelNormal {
		delete(m.switches, scope)
	} else {
		m.switches[scope] = s
	}
	m.mu.Unlock()

	return s, nil
}

// Refresh replaces the local view with what Redis holds
func (m *Manager) Refresh(ctx context.Context) error {
	if m.redis == nil {
		return nil
	}

	fresh := make(map[string]Switch)
	iter := m.redis.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := m.redis.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", key, err)
		}

		var s Switch
		if err := json.Unmarshal(data, &s); err != nil {
			continue
		}
		fresh[strings.TrimPrefix(key, keyPrefix)] = s
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan degrade keys: %w", err)
	}

	m.mu.Lock()
	m.switches = fresh
	m.mu.Unlock()
	return nil
}

// Run refreshes on every tick until ctx is done. Refresh errors keep the
// last known state and are passed to onError.
func (m *Manager) Run(ctx context.Context, interval time.Duration, onError func(error)) {
	if m.redis == nil {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Refresh(ctx); err != nil && onError != nil {
				onError(err)
			}
		}
	}
}
