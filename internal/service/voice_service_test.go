package service

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voice-auth/internal/domain"
	"voice-auth/internal/features"
	"voice-auth/internal/repository"
	"voice-auth/internal/repository/filestore"
	"voice-auth/internal/storage"
)

// stubExtractor maps recordings to canned results by their content.
type stubExtractor map[string]features.Result

func (s stubExtractor) Extract(_ context.Context, raw []byte) features.Result {
	if res, ok := s[string(raw)]; ok {
		return res
	}
	return features.Result{Status: features.StatusFailed, Err: features.ErrTooShort}
}

func extracted(f domain.Features) features.Result {
	return features.Result{Features: f, Status: features.StatusExtracted}
}

var (
	voiceA   = []byte("voice-a")
	voiceB   = []byte("voice-b")
	voiceA2  = []byte("voice-a2")
	silence  = []byte("silence")
	fallback = []byte("fallback")
)

func newStubExtractor() stubExtractor {
	return stubExtractor{
		string(voiceA):   extracted(domain.Features{"a": 1.0, "b": 0.0}),
		string(voiceB):   extracted(domain.Features{"a": 0.0, "b": 1.0}),
		string(voiceA2):  extracted(domain.Features{"a": 3.0, "c": 2.0}),
		string(fallback): {Features: features.SyntheticFeatures(), Status: features.StatusSynthetic, Err: errors.New("scratch dir missing")},
	}
}

type fakeArchive struct {
	mu       sync.Mutex
	archived map[string]int
	purged   []string
	failWith error
}

func (a *fakeArchive) Archive(_ context.Context, userID string, _ []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failWith != nil {
		return "", a.failWith
	}
	if a.archived == nil {
		a.archived = map[string]int{}
	}
	a.archived[userID]++
	return "s3://bucket/" + userID, nil
}

func (a *fakeArchive) List(context.Context, string) ([]storage.ObjectInfo, error) { return nil, nil }

func (a *fakeArchive) Purge(_ context.Context, userID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.purged = append(a.purged, userID)
	return nil
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func setupService(t *testing.T, opts Options) (VoiceAuthService, repository.ProfileRepository) {
	t.Helper()
	repo := filestore.New(filepath.Join(t.TempDir(), "profiles"))
	require.NoError(t, repo.Init(context.Background()))
	opts.Logger = quietLogger()
	return NewVoiceAuthService(repo, newStubExtractor(), opts), repo
}

func TestEndToEnd_EnrollAndVerify(t *testing.T) {
	svc, _ := setupService(t, Options{})
	ctx := context.Background()

	info, err := svc.Enroll(ctx, "u1", voiceA, "Hello")
	require.NoError(t, err)
	assert.Equal(t, "Hello", info.Passphrase)
	assert.Equal(t, 2, info.FeatureCount)

	v, err := svc.Verify(ctx, "u1", voiceA, "hello!")
	require.NoError(t, err)
	assert.True(t, v.Accepted)
	assert.InDelta(t, 1.0, v.Confidence, 1e-9)
	assert.True(t, v.PhraseMatch)
	assert.Equal(t, ReasonAccepted, v.Reason)

	v, err = svc.Verify(ctx, "u1", voiceA, "goodbye")
	require.NoError(t, err)
	assert.False(t, v.Accepted)
	assert.InDelta(t, 1.0, v.Confidence, 1e-9)
	assert.Equal(t, ReasonPhraseMismatch, v.Reason)

	v, err = svc.Verify(ctx, "u1", voiceB, "hello")
	require.NoError(t, err)
	assert.False(t, v.Accepted)
	assert.Zero(t, v.Confidence)
	assert.Equal(t, ReasonLowSimilarity, v.Reason)

	v, err = svc.Verify(ctx, "u2", voiceA, "hello")
	require.NoError(t, err)
	assert.False(t, v.Accepted)
	assert.Zero(t, v.Confidence)
	assert.Equal(t, ReasonNoProfile, v.Reason)
}

func TestEnroll_DefaultPassphrase(t *testing.T) {
	svc, _ := setupService(t, Options{})
	info, err := svc.Enroll(context.Background(), "u1", voiceA, "  ")
	require.NoError(t, err)
	assert.Equal(t, DefaultPassphrase, info.Passphrase)

	svc, _ = setupService(t, Options{DefaultPassphrase: "open sesame"})
	info, err = svc.Enroll(context.Background(), "u1", voiceA, "")
	require.NoError(t, err)
	assert.Equal(t, "open sesame", info.Passphrase)
}

func TestEnroll_FailedExtractionKeepsPriorProfile(t *testing.T) {
	svc, repo := setupService(t, Options{})
	ctx := context.Background()

	_, err := svc.Enroll(ctx, "fresh", silence, "x")
	require.ErrorIs(t, err, ErrExtractionFailed)
	require.ErrorIs(t, err, features.ErrTooShort)
	p, err := repo.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.Nil(t, p)

	_, err = svc.Enroll(ctx, "u1", voiceA, "Hello")
	require.NoError(t, err)
	_, err = svc.Enroll(ctx, "u1", silence, "Other")
	require.ErrorIs(t, err, ErrExtractionFailed)

	p, err = repo.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Hello", p.Passphrase)
	assert.Equal(t, domain.Features{"a": 1.0, "b": 0.0}, p.Features)
}

func TestEnroll_SyntheticFeaturesAreStored(t *testing.T) {
	svc, _ := setupService(t, Options{})
	info, err := svc.Enroll(context.Background(), "u1", fallback, "")
	require.NoError(t, err)
	assert.Equal(t, len(domain.FeatureNames), info.FeatureCount)
}

func TestVerify_ExtractionFailure(t *testing.T) {
	svc, _ := setupService(t, Options{})
	ctx := context.Background()
	_, err := svc.Enroll(ctx, "u1", voiceA, "Hello")
	require.NoError(t, err)

	v, err := svc.Verify(ctx, "u1", silence, "hello")
	require.NoError(t, err)
	assert.False(t, v.Accepted)
	assert.Zero(t, v.Confidence)
	assert.Equal(t, ReasonExtraction, v.Reason)
}

func TestVerify_ThresholdIsConfigurable(t *testing.T) {
	svc, _ := setupService(t, Options{Threshold: 0.99})
	ctx := context.Background()
	_, err := svc.Enroll(ctx, "u1", voiceA, "Hello")
	require.NoError(t, err)

	// cos({a:1,b:0},{a:3}) over shared key a is 1.0
	v, err := svc.Verify(ctx, "u1", voiceA2, "hello")
	require.NoError(t, err)
	assert.True(t, v.Accepted)

	v, err = svc.Verify(ctx, "u1", voiceB, "nope")
	require.NoError(t, err)
	assert.Equal(t, ReasonLowAndMismatched, v.Reason)
}

func TestUpdate(t *testing.T) {
	t.Run("absent user behaves as enroll with default passphrase", func(t *testing.T) {
		svc, repo := setupService(t, Options{})
		ctx := context.Background()

		info, err := svc.Update(ctx, "u1", voiceA)
		require.NoError(t, err)
		assert.Equal(t, DefaultPassphrase, info.Passphrase)
		assert.Nil(t, info.UpdatedAt)

		p, err := repo.Get(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, domain.Features{"a": 1.0, "b": 0.0}, p.Features)
	})

	t.Run("averages shared keys", func(t *testing.T) {
		svc, repo := setupService(t, Options{})
		ctx := context.Background()
		_, err := svc.Enroll(ctx, "u1", voiceA, "Hello")
		require.NoError(t, err)

		info, err := svc.Update(ctx, "u1", voiceA2)
		require.NoError(t, err)
		assert.Equal(t, "Hello", info.Passphrase)
		assert.NotNil(t, info.UpdatedAt)

		p, err := repo.Get(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, domain.Features{"a": 2.0, "b": 0.0, "c": 2.0}, p.Features)
	})

	t.Run("extraction failure", func(t *testing.T) {
		svc, _ := setupService(t, Options{})
		_, err := svc.Update(context.Background(), "u1", silence)
		require.ErrorIs(t, err, ErrExtractionFailed)
	})
}

func TestDelete_ThenVerifyMatchesNeverEnrolled(t *testing.T) {
	archive := &fakeArchive{}
	svc, _ := setupService(t, Options{Archive: archive})
	ctx := context.Background()

	_, err := svc.Enroll(ctx, "u1", voiceA, "Hello")
	require.NoError(t, err)
	assert.Equal(t, 1, archive.archived["u1"])

	deleted, err := svc.Delete(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Equal(t, []string{"u1"}, archive.purged)

	afterDelete, err := svc.Verify(ctx, "u1", voiceA, "hello")
	require.NoError(t, err)
	never, err := svc.Verify(ctx, "never", voiceA, "hello")
	require.NoError(t, err)
	assert.Equal(t, never, afterDelete)

	deleted, err = svc.Delete(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, deleted)

	info, err := svc.Info(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestEnroll_ArchiveFailureIsNotFatal(t *testing.T) {
	svc, repo := setupService(t, Options{Archive: &fakeArchive{failWith: errors.New("s3 down")}})
	ctx := context.Background()

	_, err := svc.Enroll(ctx, "u1", voiceA, "Hello")
	require.NoError(t, err)
	p, err := repo.Get(ctx, "u1")
	require.NoError(t, err)
	assert.NotNil(t, p)
}

func TestDebug(t *testing.T) {
	svc, _ := setupService(t, Options{Threshold: 0.7})
	ctx := context.Background()

	d, err := svc.Debug(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, d)

	_, err = svc.Enroll(ctx, "u1", voiceA, "Hello")
	require.NoError(t, err)
	d, err = svc.Debug(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, d.FeatureNames)
	assert.Equal(t, 2, d.FeatureCount)
	assert.Equal(t, 0.7, d.Threshold)
	assert.True(t, d.HasPassphrase)
}

func TestInvalidUserID(t *testing.T) {
	svc, _ := setupService(t, Options{})
	ctx := context.Background()

	_, err := svc.Enroll(ctx, "", voiceA, "")
	assert.ErrorIs(t, err, ErrInvalidUserID)
	_, err = svc.Verify(ctx, "", voiceA, "")
	assert.ErrorIs(t, err, ErrInvalidUserID)
	_, err = svc.Update(ctx, "", voiceA)
	assert.ErrorIs(t, err, ErrInvalidUserID)
	_, err = svc.Delete(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidUserID)
	_, err = svc.Info(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidUserID)
	_, err = svc.Debug(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidUserID)
}

func TestConcurrentUpdatesAreSerialised(t *testing.T) {
	svc, repo := setupService(t, Options{})
	ctx := context.Background()
	_, err := svc.Enroll(ctx, "u1", voiceA, "Hello")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Update(ctx, "u1", voiceA)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	p, err := repo.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.Features{"a": 1.0, "b": 0.0}, p.Features)
	assert.Zero(t, svc.(*voiceAuthService).locks.size())
}

func TestUserLocks_Exclusive(t *testing.T) {
	l := newUserLocks()
	unlock := l.lock("u1")

	acquired := make(chan struct{})
	go func() {
		defer close(acquired)
		l.lock("u1")()
	}()

	// a different user is not blocked
	l.lock("u2")()

	select {
	case <-acquired:
		t.Fatal("second lock on u1 acquired while held")
	default:
	}
	unlock()
	<-acquired
	assert.Zero(t, l.size())
}
