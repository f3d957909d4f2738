package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyUser         = "user"
)

// KV is a durable string key/value backend. Get reports ok=false for a
// missing key.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
}

type TokenStore interface {
	Save(ctx context.Context, creds Credentials, user User) error
	Load(ctx context.Context) (Credentials, User, error)
	Clear(ctx context.Context) error
	AccessToken(ctx context.Context) (string, error)
	RefreshToken(ctx context.Context) (string, error)
	SetAccessToken(ctx context.Context, token string) error
}

// Store keeps the credential pair and cached user under three fixed keys.
type Store struct {
	kv KV
}

func NewStore(kv KV) (*Store, error) {
	if kv == nil {
		return nil, fmt.Errorf("token store backend is required")
	}
	return &Store{kv: kv}, nil
}

func (s *Store) Save(ctx context.Context, creds Credentials, user User) error {
	if !creds.complete() {
		return fmt.Errorf("save credentials: access and refresh token are required")
	}
	b, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}
	if err := s.kv.Set(ctx, KeyAccessToken, creds.AccessToken); err != nil {
		return fmt.Errorf("save access token: %w", err)
	}
	if err := s.kv.Set(ctx, KeyRefreshToken, creds.RefreshToken); err != nil {
		return fmt.Errorf("save refresh token: %w", err)
	}
	if err := s.kv.Set(ctx, KeyUser, string(b)); err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

// Load returns ErrNoCredentials unless all three entries are present and the
// user record parses.
func (s *Store) Load(ctx context.Context) (Credentials, User, error) {
	access, err := s.get(ctx, KeyAccessToken)
	if err != nil {
		return Credentials{}, User{}, err
	}
	refresh, err := s.get(ctx, KeyRefreshToken)
	if err != nil {
		return Credentials{}, User{}, err
	}
	rawUser, err := s.get(ctx, KeyUser)
	if err != nil {
		return Credentials{}, User{}, err
	}
	creds := Credentials{AccessToken: access, RefreshToken: refresh}
	if !creds.complete() || strings.TrimSpace(rawUser) == "" {
		return Credentials{}, User{}, ErrNoCredentials
	}

	var user User
	if err := json.Unmarshal([]byte(rawUser), &user); err != nil {
		return Credentials{}, User{}, fmt.Errorf("%w: malformed cached user: %v", ErrNoCredentials, err)
	}
	if strings.TrimSpace(user.Username) == "" {
		return Credentials{}, User{}, fmt.Errorf("%w: cached user has no username", ErrNoCredentials)
	}
	return creds, user, nil
}

func (s *Store) Clear(ctx context.Context) error {
	if err := s.kv.Delete(ctx, KeyAccessToken, KeyRefreshToken, KeyUser); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}

func (s *Store) AccessToken(ctx context.Context) (string, error) {
	return s.get(ctx, KeyAccessToken)
}

func (s *Store) RefreshToken(ctx context.Context) (string, error) {
	return s.get(ctx, KeyRefreshToken)
}

// SetAccessToken replaces only the access token; refresh token and user stay.
func (s *Store) SetAccessToken(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("set access token: token is empty")
	}
	if err := s.kv.Set(ctx, KeyAccessToken, token); err != nil {
		return fmt.Errorf("save access token: %w", err)
	}
	return nil
}

func (s *Store) get(ctx context.Context, key string) (string, error) {
	v, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	if !ok {
		return "", nil
	}
	return v, nil
}

type MemoryKV struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{values: make(map[string]string)}
}

func (m *MemoryKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryKV) Set(_ context.Context, key, value string) error {
	if key == "" {
		return errors.New("key is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemoryKV) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}

// Len is the number of stored entries.
func (m *MemoryKV) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}
