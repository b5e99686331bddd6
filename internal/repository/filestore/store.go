// Package filestore keeps one JSON document per voice profile on disk, named
// by a blake2b digest of the user id.
//
// Writes go to a temporary file in the same directory that is synced and then
// renamed over the target, so readers see either the old or the new record.
package filestore

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"

	"voice-auth/internal/domain"
	"voice-auth/internal/repository"
)

type record struct {
	UserID     string          `json:"user_id"`
	Passphrase string          `json:"passphrase"`
	Features   domain.Features `json:"features"`
	CreatedAt  string          `json:"created_at"`
	UpdatedAt  string          `json:"updated_at,omitempty"`
}

type Store struct {
	dir string
	mu  sync.Mutex
}

func New(dir string) repository.ProfileRepository {
	return &Store{dir: dir}
}

func (s *Store) Init(context.Context) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}
	return nil
}

func (s *Store) Create(_ context.Context, profile *domain.VoiceProfile) error {
	if len(profile.Features) == 0 {
		return repository.ErrEmptyFeatures
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *profile
	stored.CreatedAt = time.Now().UTC()
	stored.UpdatedAt = nil
	if err := s.write(&stored); err != nil {
		return err
	}
	*profile = stored
	return nil
}

func (s *Store) Get(_ context.Context, userID string) (*domain.VoiceProfile, error) {
	return s.read(userID)
}

func (s *Store) Update(_ context.Context, profile *domain.VoiceProfile) error {
	if len(profile.Features) == 0 {
		return repository.ErrEmptyFeatures
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.read(profile.UserID)
	if err != nil {
		return err
	}
	stored := *profile
	now := time.Now().UTC()
	if existing == nil {
		stored.CreatedAt = now
		stored.UpdatedAt = nil
	} else {
		stored.Passphrase = existing.Passphrase
		stored.Features = existing.Features.Merge(profile.Features)
		stored.CreatedAt = existing.CreatedAt
		stored.UpdatedAt = &now
	}
	if err := s.write(&stored); err != nil {
		return err
	}
	*profile = stored
	return nil
}

func (s *Store) Delete(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(userID))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("delete voice profile: %w", err)
	}
	return true, nil
}

func (s *Store) Info(ctx context.Context, userID string) (*domain.ProfileInfo, error) {
	profile, err := s.Get(ctx, userID)
	if err != nil || profile == nil {
		return nil, err
	}
	return profile.Info(), nil
}

// path maps a user id to a fixed-length file name inside the profile dir.
// The id itself is kept in the record.
func (s *Store) path(userID string) string {
	sum := blake2b.Sum256([]byte(userID))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:])+".json")
}

func (s *Store) read(userID string) (*domain.VoiceProfile, error) {
	raw, err := os.ReadFile(s.path(userID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read voice profile: %w", err)
	}

	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode voice profile %s: %w", userID, err)
	}
	profile := &domain.VoiceProfile{
		UserID:     rec.UserID,
		Passphrase: rec.Passphrase,
		Features:   rec.Features,
	}
	if profile.CreatedAt, err = time.Parse(time.RFC3339Nano, rec.CreatedAt); err != nil {
		return nil, fmt.Errorf("parse created_at for %s: %w", userID, err)
	}
	if rec.UpdatedAt != "" {
		t, err := time.Parse(time.RFC3339Nano, rec.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("parse updated_at for %s: %w", userID, err)
		}
		profile.UpdatedAt = &t
	}
	return profile, nil
}

func (s *Store) write(profile *domain.VoiceProfile) error {
	rec := record{
		UserID:     profile.UserID,
		Passphrase: profile.Passphrase,
		Features:   profile.Features,
		CreatedAt:  profile.CreatedAt.Format(time.RFC3339Nano),
	}
	if profile.UpdatedAt != nil {
		rec.UpdatedAt = profile.UpdatedAt.Format(time.RFC3339Nano)
	}
	raw, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode voice profile: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".profile-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp profile: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp profile: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp profile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp profile: %w", err)
	}
	if err := os.Rename(tmpName, s.path(profile.UserID)); err != nil {
		return fmt.Errorf("replace voice profile: %w", err)
	}
	return nil
}
