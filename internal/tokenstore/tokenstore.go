package tokenstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/honeyecosystem/sync/internal/models"
	"github.com/honeyecosystem/sync/internal/store"
)

const (
	credentialsCollection = "credentials"
	profileCollection     = "profile"
)

// Store is the sole owner of the bearer credentials and the cached profile.
// Every mutation is mirrored synchronously into the local store so a fresh
// process start observes the same session. Absent credentials fail closed:
// callers get ok=false and must not dispatch authenticated requests.
type Store struct {
	mu      sync.RWMutex
	backend store.Store
	sealer  *sealer

	tokens    models.SessionTokens
	hasTokens bool
	profile   *models.UserProfile
}

// New loads any persisted session state from the backend. Credentials sealed
// under a different machine key are treated as absent rather than fatal.
func New(backend store.Store, machineKey []byte) (*Store, error) {
	sealer, err := newSealer(machineKey)
	if err != nil {
		return nil, err
	}

	s := &Store{backend: backend, sealer: sealer}

	if rec, err := backend.Get(credentialsCollection); err == nil {
		if plaintext, err := sealer.open(rec.Payload); err == nil {
			var tokens models.SessionTokens
			if err := json.Unmarshal(plaintext, &tokens); err == nil && tokens.AccessToken != "" {
				s.tokens = tokens
				s.hasTokens = true
			}
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load credentials: %w", err)
	}

	if rec, err := backend.Get(profileCollection); err == nil {
		var profile models.UserProfile
		if err := json.Unmarshal(rec.Payload, &profile); err == nil {
			s.profile = &profile
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load profile: %w", err)
	}

	return s, nil
}

// Tokens returns the current credential pair. ok is false when no session has
// been established.
func (s *Store) Tokens() (models.SessionTokens, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens, s.hasTokens
}

// SetTokens stores a new credential pair. An empty refresh token keeps the
// previously stored one, matching the refresh endpoint which only rotates the
// access token.
func (s *Store) SetTokens(access, refresh string) error {
	if access == "" {
		return errors.New("access token must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens.AccessToken = access
	if refresh != "" {
		s.tokens.RefreshToken = refresh
	}
	s.hasTokens = true
	return s.persistLocked()
}

// SetAccess replaces only the access token after a successful refresh.
func (s *Store) SetAccess(access string) error {
	return s.SetTokens(access, "")
}

// Clear forgets the session entirely, in memory and at rest.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens = models.SessionTokens{}
	s.hasTokens = false
	s.profile = nil

	if err := s.backend.Delete(credentialsCollection); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	if err := s.backend.Delete(profileCollection); err != nil {
		return fmt.Errorf("clear profile: %w", err)
	}
	return nil
}

// Profile returns the cached user profile, if any.
func (s *Store) Profile() (models.UserProfile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.profile == nil {
		return models.UserProfile{}, false
	}
	return *s.profile, true
}

// SetProfile eagerly replaces the cached profile, e.g. right after a profile
// update succeeds, without waiting for a re-fetch.
func (s *Store) SetProfile(profile models.UserProfile) error {
	payload, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.profile = &profile
	if err := s.backend.Put(profileCollection, store.Record{Payload: payload}); err != nil {
		return fmt.Errorf("persist profile: %w", err)
	}
	return nil
}

func (s *Store) persistLocked() error {
	payload, err := json.Marshal(s.tokens)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	sealed, err := s.sealer.seal(payload)
	if err != nil {
		return err
	}
	if err := s.backend.Put(credentialsCollection, store.Record{Payload: sealed}); err != nil {
		return fmt.Errorf("persist credentials: %w", err)
	}
	return nil
}
