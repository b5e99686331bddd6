package repository

import (
	"context"
	"errors"

	"voice-auth/internal/domain"
)

// ErrEmptyFeatures is returned when a profile without features is written.
var ErrEmptyFeatures = errors.New("voice profile has no features")

// ProfileRepository persists one voice profile per user id. Lookups of an
// unknown user return a nil profile and a nil error.
type ProfileRepository interface {
	Init(ctx context.Context) error
	// Create stores profile, replacing any existing profile for the user.
	Create(ctx context.Context, profile *domain.VoiceProfile) error
	Get(ctx context.Context, userID string) (*domain.VoiceProfile, error)
	// Update averages profile.Features into the stored profile. When the user
	// has no profile yet, profile is stored as given.
	Update(ctx context.Context, profile *domain.VoiceProfile) error
	Delete(ctx context.Context, userID string) (bool, error)
	Info(ctx context.Context, userID string) (*domain.ProfileInfo, error)
}
