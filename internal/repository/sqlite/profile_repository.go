package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"voice-auth/internal/domain"
	"voice-auth/internal/repository"
)

const createVoiceProfilesTable = `
CREATE TABLE IF NOT EXISTS voice_profiles (
	user_id TEXT PRIMARY KEY,
	passphrase TEXT NOT NULL,
	features TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NULL
);
`

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type ProfileRepository struct {
	db *sql.DB
}

func NewProfileRepository(db *sql.DB) repository.ProfileRepository {
	return &ProfileRepository{db: db}
}

func (r *ProfileRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createVoiceProfilesTable); err != nil {
		return fmt.Errorf("create voice_profiles table: %w", err)
	}
	return nil
}

func (r *ProfileRepository) Create(ctx context.Context, profile *domain.VoiceProfile) error {
	if len(profile.Features) == 0 {
		return repository.ErrEmptyFeatures
	}
	stored := *profile
	stored.CreatedAt = time.Now().UTC()
	stored.UpdatedAt = nil

	features, err := json.Marshal(stored.Features)
	if err != nil {
		return fmt.Errorf("encode features: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, `
INSERT INTO voice_profiles (user_id, passphrase, features, created_at, updated_at)
VALUES (?, ?, ?, ?, NULL)
ON CONFLICT(user_id) DO UPDATE SET
	passphrase = excluded.passphrase,
	features = excluded.features,
	created_at = excluded.created_at,
	updated_at = NULL`,
		stored.UserID,
		stored.Passphrase,
		string(features),
		stored.CreatedAt,
	); err != nil {
		return fmt.Errorf("upsert voice profile: %w", err)
	}
	*profile = stored
	return nil
}

func (r *ProfileRepository) Get(ctx context.Context, userID string) (*domain.VoiceProfile, error) {
	return getProfile(ctx, r.db, userID)
}

func (r *ProfileRepository) Update(ctx context.Context, profile *domain.VoiceProfile) error {
	if len(profile.Features) == 0 {
		return repository.ErrEmptyFeatures
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // safe no-op on commit

	existing, err := getProfile(ctx, tx, profile.UserID)
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

	features, err := json.Marshal(stored.Features)
	if err != nil {
		return fmt.Errorf("encode features: %w", err)
	}

	var updatedAt sql.NullTime
	if stored.UpdatedAt != nil {
		updatedAt = sql.NullTime{Time: *stored.UpdatedAt, Valid: true}
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO voice_profiles (user_id, passphrase, features, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET
	features = excluded.features,
	updated_at = excluded.updated_at`,
		stored.UserID,
		stored.Passphrase,
		string(features),
		stored.CreatedAt,
		updatedAt,
	); err != nil {
		return fmt.Errorf("update voice profile: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit voice profile: %w", err)
	}
	*profile = stored
	return nil
}

func (r *ProfileRepository) Delete(ctx context.Context, userID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM voice_profiles WHERE user_id = ?`, userID)
	if err != nil {
		return false, fmt.Errorf("delete voice profile: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete voice profile rows: %w", err)
	}
	return n > 0, nil
}

func (r *ProfileRepository) Info(ctx context.Context, userID string) (*domain.ProfileInfo, error) {
	profile, err := r.Get(ctx, userID)
	if err != nil || profile == nil {
		return nil, err
	}
	return profile.Info(), nil
}

func getProfile(ctx context.Context, q queryer, userID string) (*domain.VoiceProfile, error) {
	row := q.QueryRowContext(ctx, `
SELECT user_id, passphrase, features, created_at, updated_at
FROM voice_profiles
WHERE user_id = ?`,
		userID,
	)

	var (
		profile   domain.VoiceProfile
		features  string
		updatedAt sql.NullTime
	)
	if err := row.Scan(
		&profile.UserID,
		&profile.Passphrase,
		&features,
		&profile.CreatedAt,
		&updatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan voice profile: %w", err)
	}
	if err := json.Unmarshal([]byte(features), &profile.Features); err != nil {
		return nil, fmt.Errorf("decode features for %s: %w", userID, err)
	}
	if updatedAt.Valid {
		t := updatedAt.Time
		profile.UpdatedAt = &t
	}
	return &profile, nil
}
