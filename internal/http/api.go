package http

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"voice-auth/internal/domain"
	"voice-auth/internal/service"
	"voice-auth/internal/storage"
)

const verificationFailed = "voice verification failed"

var errMissingAudio = errors.New("audio file is required")

// Options configures the HTTP handler.
type Options struct {
	MaxUploadBytes int64
	// Debug exposes the profile debug and recordings endpoints.
	Debug bool
	// Tokens signs verification assertions. Nil disables tokens.
	Tokens *TokenIssuer
	// Archive lists archived recordings in debug mode. May be nil.
	Archive storage.Archive
	Logger  logrus.FieldLogger
}

// Handler wires HTTP routes to domain services.
type Handler struct {
	voice     service.VoiceAuthService
	archive   storage.Archive
	tokens    *TokenIssuer
	maxUpload int64
	debug     bool
	logger    logrus.FieldLogger
}

func NewHandler(voice service.VoiceAuthService, opts Options) *Handler {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 16 << 20
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Handler{
		voice:     voice,
		archive:   opts.Archive,
		tokens:    opts.Tokens,
		maxUpload: opts.MaxUploadBytes,
		debug:     opts.Debug,
		logger:    opts.Logger,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(requestID(), requestLogger(h.logger), corsMiddleware())

	api := router.Group("/api")
	{
		profiles := api.Group("/voice/profiles")
		profiles.POST("/:user_id", h.enroll)
		profiles.PUT("/:user_id", h.update)
		profiles.GET("/:user_id", h.info)
		profiles.DELETE("/:user_id", h.delete)
		if h.debug {
			profiles.GET("/:user_id/debug", h.debugProfile)
			profiles.GET("/:user_id/recordings", h.listRecordings)
		}

		api.POST("/voice/verify/:user_id", h.verify)
		api.GET("/health", func(ctx *gin.Context) {
			ctx.JSON(http.StatusOK, gin.H{"ok": "ok"})
		})
	}
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Writer.Header().Set("X-Request-ID", id)
		c.Next()
	}
}

func requestLogger(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		logger.WithFields(logrus.Fields{
			"request_id": c.GetString("request_id"),
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"status":     c.Writer.Status(),
			"latency":    time.Since(started).Round(time.Microsecond),
		}).Debug("request handled")
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Request-ID")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func (h *Handler) enroll(c *gin.Context) {
	audio, ok := h.readAudio(c)
	if !ok {
		return
	}

	info, err := h.voice.Enroll(c.Request.Context(), c.Param("user_id"), audio, c.PostForm("passphrase"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, profileToResponse(info))
}

func (h *Handler) update(c *gin.Context) {
	audio, ok := h.readAudio(c)
	if !ok {
		return
	}

	info, err := h.voice.Update(c.Request.Context(), c.Param("user_id"), audio)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, profileToResponse(info))
}

func (h *Handler) info(c *gin.Context) {
	info, err := h.voice.Info(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	if info == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "voice profile not found"})
		return
	}
	c.JSON(http.StatusOK, profileToResponse(info))
}

func (h *Handler) delete(c *gin.Context) {
	userID := c.Param("user_id")
	deleted, err := h.voice.Delete(c.Request.Context(), userID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "voice profile not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": userID})
}

func (h *Handler) verify(c *gin.Context) {
	audio, ok := h.readAudio(c)
	if !ok {
		return
	}

	userID := c.Param("user_id")
	result, err := h.voice.Verify(c.Request.Context(), userID, audio, c.PostForm("transcript"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	resp := VerifyResponse{
		Accepted:   result.Accepted,
		Confidence: result.Confidence,
		Message:    verificationFailed,
	}
	if result.Accepted {
		resp.Message = "voice verified"
		if h.tokens != nil {
			token, err := h.tokens.Issue(userID, result.Confidence)
			if err != nil {
				h.logger.WithError(err).WithField("user_id", userID).Error("issue verification token")
				c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
				return
			}
			resp.Token = token
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) debugProfile(c *gin.Context) {
	info, err := h.voice.Debug(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	if info == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "voice profile not found"})
		return
	}
	c.JSON(http.StatusOK, DebugResponse{
		UserID:        info.UserID,
		FeatureNames:  info.FeatureNames,
		FeatureCount:  info.FeatureCount,
		Threshold:     info.Threshold,
		HasPassphrase: info.HasPassphrase,
	})
}

func (h *Handler) listRecordings(c *gin.Context) {
	if h.archive == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "recording archive is not configured"})
		return
	}
	objects, err := h.archive.List(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	resp := make([]RecordingResponse, len(objects))
	for i, obj := range objects {
		resp[i] = RecordingResponse{Key: obj.Key, Size: obj.Size, LastModified: obj.LastModified}
	}
	c.JSON(http.StatusOK, resp)
}

// readAudio loads the multipart "audio" file, answering the request itself
// when the upload is missing or too large.
func (h *Handler) readAudio(c *gin.Context) ([]byte, bool) {
	if c.Request.ContentLength > h.maxUpload {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "audio upload too large"})
		return nil, false
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)

	header, err := c.FormFile("audio")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "audio upload too large"})
			return nil, false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": errMissingAudio.Error()})
		return nil, false
	}

	file, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	if len(audio) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": errMissingAudio.Error()})
		return nil, false
	}
	return audio, true
}

func (h *Handler) writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidUserID):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrExtractionFailed):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "could not extract voice features from the recording"})
	default:
		h.logger.WithError(err).WithFields(logrus.Fields{
			"user_id":    c.Param("user_id"),
			"request_id": c.GetString("request_id"),
		}).Error("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func profileToResponse(info *domain.ProfileInfo) ProfileResponse {
	return ProfileResponse{
		UserID:       info.UserID,
		CreatedAt:    info.CreatedAt,
		UpdatedAt:    info.UpdatedAt,
		FeatureCount: info.FeatureCount,
	}
}

type ProfileResponse struct {
	UserID       string     `json:"user_id"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
	FeatureCount int        `json:"feature_count"`
}

type VerifyResponse struct {
	Accepted   bool    `json:"accepted"`
	Confidence float64 `json:"confidence"`
	Message    string  `json:"message"`
	Token      string  `json:"token,omitempty"`
}

type DebugResponse struct {
	UserID        string   `json:"user_id"`
	FeatureNames  []string `json:"feature_names"`
	FeatureCount  int      `json:"feature_count"`
	Threshold     float64  `json:"threshold"`
	HasPassphrase bool     `json:"has_passphrase"`
}

type RecordingResponse struct {
	Key          string     `json:"key"`
	Size         int64      `json:"size"`
	LastModified *time.Time `json:"last_modified,omitempty"`
}
