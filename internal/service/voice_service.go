package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"voice-auth/internal/domain"
	"voice-auth/internal/features"
	"voice-auth/internal/passphrase"
	"voice-auth/internal/repository"
	"voice-auth/internal/similarity"
	"voice-auth/internal/storage"
)

const (
	DefaultPassphrase = "Hello Emora"
	DefaultThreshold  = 0.50
)

var (
	// ErrExtractionFailed indicates the recording produced no usable features.
	ErrExtractionFailed = errors.New("voice feature extraction failed")
	// ErrInvalidUserID is returned for an empty user id.
	ErrInvalidUserID = errors.New("user id is required")
)

// Reason explains a verification outcome. It is meant for logs only.
type Reason string

const (
	ReasonAccepted         Reason = "accepted"
	ReasonNoProfile        Reason = "no_profile"
	ReasonExtraction       Reason = "extraction_failed"
	ReasonLowSimilarity    Reason = "low_similarity"
	ReasonPhraseMismatch   Reason = "phrase_mismatch"
	ReasonLowAndMismatched Reason = "low_similarity_and_phrase_mismatch"
)

// Verification is the result of comparing a fresh recording against a profile.
type Verification struct {
	Accepted    bool
	Confidence  float64
	PhraseMatch bool
	Reason      Reason
}

type DebugInfo struct {
	UserID        string
	FeatureNames  []string
	FeatureCount  int
	Threshold     float64
	HasPassphrase bool
}

// FeatureExtractor turns a raw recording into voice features.
type FeatureExtractor interface {
	Extract(ctx context.Context, raw []byte) features.Result
}

// VoiceAuthService enrolls voice profiles and verifies speakers against them.
type VoiceAuthService interface {
	Enroll(ctx context.Context, userID string, audio []byte, phrase string) (*domain.ProfileInfo, error)
	Verify(ctx context.Context, userID string, audio []byte, transcript string) (*Verification, error)
	Update(ctx context.Context, userID string, audio []byte) (*domain.ProfileInfo, error)
	Delete(ctx context.Context, userID string) (bool, error)
	Info(ctx context.Context, userID string) (*domain.ProfileInfo, error)
	Debug(ctx context.Context, userID string) (*DebugInfo, error)
}

// Options configures the voice auth service.
type Options struct {
	Threshold         float64
	DefaultPassphrase string
	// Archive receives raw enrollment audio. Nil disables archiving.
	Archive storage.Archive
	Logger  logrus.FieldLogger
}

type voiceAuthService struct {
	profiles      repository.ProfileRepository
	extractor     FeatureExtractor
	archive       storage.Archive
	threshold     float64
	defaultPhrase string
	locks         *userLocks
	logger        logrus.FieldLogger
}

func NewVoiceAuthService(profiles repository.ProfileRepository, extractor FeatureExtractor, opts Options) VoiceAuthService {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if strings.TrimSpace(opts.DefaultPassphrase) == "" {
		opts.DefaultPassphrase = DefaultPassphrase
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &voiceAuthService{
		profiles:      profiles,
		extractor:     extractor,
		archive:       opts.Archive,
		threshold:     opts.Threshold,
		defaultPhrase: opts.DefaultPassphrase,
		locks:         newUserLocks(),
		logger:        opts.Logger,
	}
}

func (s *voiceAuthService) Enroll(ctx context.Context, userID string, audio []byte, phrase string) (*domain.ProfileInfo, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}
	log := s.logger.WithField("user_id", userID)

	feats, err := s.extract(ctx, log, audio)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(phrase) == "" {
		phrase = s.defaultPhrase
	}

	unlock := s.locks.lock(userID)
	defer unlock()

	profile := &domain.VoiceProfile{UserID: userID, Passphrase: phrase, Features: feats}
	if err := s.profiles.Create(ctx, profile); err != nil {
		return nil, fmt.Errorf("store voice profile: %w", err)
	}
	log.WithField("features", len(feats)).Info("voice profile enrolled")

	s.archiveRecording(ctx, log, userID, audio)
	return profile.Info(), nil
}

func (s *voiceAuthService) Verify(ctx context.Context, userID string, audio []byte, transcript string) (*Verification, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}
	log := s.logger.WithField("user_id", userID)

	stored, err := s.profiles.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load voice profile: %w", err)
	}
	if stored == nil {
		log.WithField("reason", ReasonNoProfile).Info("voice verification rejected")
		return &Verification{Reason: ReasonNoProfile}, nil
	}

	feats, err := s.extract(ctx, log, audio)
	if err != nil {
		log.WithField("reason", ReasonExtraction).Info("voice verification rejected")
		return &Verification{Reason: ReasonExtraction}, nil
	}

	v := &Verification{
		Confidence:  similarity.Score(stored.Features, feats),
		PhraseMatch: passphrase.Match(stored.Passphrase, transcript),
	}
	acoustic := v.Confidence >= s.threshold
	v.Accepted = acoustic && v.PhraseMatch
	switch {
	case v.Accepted:
		v.Reason = ReasonAccepted
	case !acoustic && !v.PhraseMatch:
		v.Reason = ReasonLowAndMismatched
	case !acoustic:
		v.Reason = ReasonLowSimilarity
	default:
		v.Reason = ReasonPhraseMismatch
	}

	log.WithFields(logrus.Fields{
		"confidence":   v.Confidence,
		"threshold":    s.threshold,
		"phrase_match": v.PhraseMatch,
		"reason":       v.Reason,
	}).Info("voice verification completed")
	return v, nil
}

func (s *voiceAuthService) Update(ctx context.Context, userID string, audio []byte) (*domain.ProfileInfo, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}
	log := s.logger.WithField("user_id", userID)

	feats, err := s.extract(ctx, log, audio)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.lock(userID)
	defer unlock()

	profile := &domain.VoiceProfile{UserID: userID, Passphrase: s.defaultPhrase, Features: feats}
	if err := s.profiles.Update(ctx, profile); err != nil {
		return nil, fmt.Errorf("update voice profile: %w", err)
	}
	log.Info("voice profile updated")

	s.archiveRecording(ctx, log, userID, audio)
	return profile.Info(), nil
}

func (s *voiceAuthService) Delete(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, ErrInvalidUserID
	}
	unlock := s.locks.lock(userID)
	defer unlock()

	deleted, err := s.profiles.Delete(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("delete voice profile: %w", err)
	}
	log := s.logger.WithField("user_id", userID)
	if s.archive != nil {
		if err := s.archive.Purge(ctx, userID); err != nil {
			log.WithError(err).Warn("failed to purge archived recordings")
		}
	}
	if deleted {
		log.Info("voice profile deleted")
	}
	return deleted, nil
}

func (s *voiceAuthService) Info(ctx context.Context, userID string) (*domain.ProfileInfo, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}
	return s.profiles.Info(ctx, userID)
}

func (s *voiceAuthService) Debug(ctx context.Context, userID string) (*DebugInfo, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}
	profile, err := s.profiles.Get(ctx, userID)
	if err != nil || profile == nil {
		return nil, err
	}
	names := profile.Features.Keys()
	return &DebugInfo{
		UserID:        userID,
		FeatureNames:  names,
		FeatureCount:  len(names),
		Threshold:     s.threshold,
		HasPassphrase: profile.Passphrase != "",
	}, nil
}

func (s *voiceAuthService) extract(ctx context.Context, log logrus.FieldLogger, audio []byte) (domain.Features, error) {
	started := time.Now()
	res := s.extractor.Extract(ctx, audio)
	entry := log.WithFields(logrus.Fields{
		"status":  res.Status,
		"elapsed": time.Since(started).Round(time.Millisecond),
	})
	if len(res.Degraded) > 0 {
		entry = entry.WithField("degraded", res.Degraded)
	}

	switch {
	case res.Status == features.StatusSynthetic:
		entry.WithError(res.Err).Warn("using synthetic voice features")
	case !res.OK():
		entry.WithError(res.Err).Warn("voice feature extraction failed")
		if res.Err != nil {
			return nil, fmt.Errorf("%w: %w", ErrExtractionFailed, res.Err)
		}
		return nil, ErrExtractionFailed
	default:
		entry.Debug("voice features extracted")
	}
	return res.Features, nil
}

func (s *voiceAuthService) archiveRecording(ctx context.Context, log logrus.FieldLogger, userID string, audio []byte) {
	if s.archive == nil {
		return
	}
	location, err := s.archive.Archive(ctx, userID, audio)
	if err != nil {
		log.WithError(err).Warn("failed to archive recording")
		return
	}
	log.WithField("location", location).Debug("recording archived")
}
