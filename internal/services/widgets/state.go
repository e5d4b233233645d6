package widgets

import (
	"context"
	"time"

	"github.com/asakaida/relmanager/pkg/cache"
)

// StateStore keeps widget state (search terms, active scopes) between Ajax
// requests of one form session.
type StateStore struct {
	cache cache.Cache
	ttl   time.Duration
}

// NewStateStore creates a state store over c. A zero ttl uses the cache default.
func NewStateStore(c cache.Cache, ttl time.Duration) *StateStore {
	return &StateStore{cache: c, ttl: ttl}
}

func stateKey(sessionKey, alias string) string {
	return sessionKey + ":" + alias + ":"
}

// Get returns a stored value.
func (s *StateStore) Get(ctx context.Context, sessionKey, alias, name string) (any, bool) {
	if s == nil || sessionKey == "" {
		return nil, false
	}
	return s.cache.Get(ctx, stateKey(sessionKey, alias)+name)
}

// GetString returns a stored string or "".
func (s *StateStore) GetString(ctx context.Context, sessionKey, alias, name string) string {
	v, ok := s.Get(ctx, sessionKey, alias, name)
	if !ok {
		return ""
	}
	str, _ := v.(string)
	return str
}

// Put stores a value.
func (s *StateStore) Put(ctx context.Context, sessionKey, alias, name string, value any) error {
	if s == nil || sessionKey == "" {
		return nil
	}
	return s.cache.Set(ctx, stateKey(sessionKey, alias)+name, value, s.ttl)
}

// Reset drops every value stored for the widget.
func (s *StateStore) Reset(ctx context.Context, sessionKey, alias string) error {
	if s == nil || sessionKey == "" {
		return nil
	}
	return s.cache.DeletePrefix(ctx, stateKey(sessionKey, alias))
}
