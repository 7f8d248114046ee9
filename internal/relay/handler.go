package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"hls-relay/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
)

const (
	tabIDHeader     = "X-Tab-ID"
	tabIDQuery      = "tid"
	accessTokenName = "accessToken"
	maxSessionIDLen = 256
)

// Handler exposes the post metadata and stream proxy endpoints using go-chi.
type Handler struct {
	svc       *Service
	log       *slog.Logger
	metrics   *metrics.Metrics
	userAgent string
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithUpstreamUserAgent makes every upstream request use ua instead of the
// client's own User-Agent.
func WithUpstreamUserAgent(ua string) HandlerOption {
	return func(h *Handler) {
		h.userAgent = ua
	}
}

// NewHandler returns a Handler that uses the given Service, Logger, and optional Metrics.
// Metrics may be nil to disable metric recording (e.g. in tests).
func NewHandler(svc *Service, log *slog.Logger, m *metrics.Metrics, opts ...HandlerOption) *Handler {
	h := &Handler{svc: svc, log: log, metrics: m}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// GetPost handles GET /api/post/{channel_id}/{post_id}.
// The tab id comes from the X-Tab-ID header; the user's access token from the
// Authorization header or the accessToken cookie.
func (h *Handler) GetPost(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.Header.Get(tabIDHeader))
	if sessionID == "" || len(sessionID) > maxSessionIDLen {
		writeJSONError(w, http.StatusBadRequest, "Tab ID header missing")
		return
	}

	token := accessToken(r)
	if token == "" {
		writeJSONError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	channelID := chi.URLParam(r, "channel_id")
	postID, err := strconv.ParseInt(chi.URLParam(r, "post_id"), 10, 64)
	if err != nil || postID <= 0 || channelID == "" {
		writeJSONError(w, http.StatusBadRequest, "Invalid post")
		return
	}

	ua := h.upstreamUserAgent(r)
	body, err := h.svc.LoadPost(r.Context(), sessionID, PostRequest{
		ChannelID:   channelID,
		PostID:      postID,
		AccessToken: token,
		UserAgent:   ua,
		Device:      ParseUserAgent(ua),
	})
	if err != nil {
		h.writePostError(w, err, channelID, postID)
		return
	}

	h.log.Info("stream credentials stored",
		slog.String("channel_id", channelID),
		slog.Int64("post_id", postID))
	if h.metrics != nil {
		h.metrics.IncCredentialsStored()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(body)
}

// Stream handles GET /stream/p{post_id}/*: a manifest or a segment of the
// post, fetched with the credentials stored for the requesting tab.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	postID, err := strconv.ParseInt(chi.URLParam(r, "post_id"), 10, 64)
	resourcePath := chi.URLParam(r, "*")
	if err != nil || resourcePath == "" {
		http.Error(w, "Invalid stream path", http.StatusBadRequest)
		return
	}

	sessionID := r.URL.Query().Get(tabIDQuery)
	if sessionID == "" {
		sessionID = r.Header.Get(tabIDHeader)
	}
	if len(sessionID) > maxSessionIDLen {
		http.Error(w, "Invalid Tab ID", http.StatusBadRequest)
		return
	}

	ua := h.upstreamUserAgent(r)
	start := time.Now()
	resp, err := h.svc.Stream(r.Context(), StreamRequest{
		SessionID:    sessionID,
		ResourceID:   postID,
		ResourcePath: resourcePath,
		UserAgent:    ua,
		Device:       ParseUserAgent(ua),
		Range:        r.Header.Get("Range"),
	})
	if err != nil {
		h.writeStreamError(r.Context(), w, err, postID, resourcePath)
		return
	}
	defer resp.Close()

	kind := "segment"
	if resp.IsManifest() {
		kind = "manifest"
	}
	if h.metrics != nil {
		h.metrics.ObserveUpstream(kind, time.Since(start).Seconds())
	}

	if resp.IsManifest() {
		w.Header().Set("Content-Type", resp.ContentType)
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Content-Length", strconv.Itoa(len(resp.Manifest)))
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(resp.Manifest)); err != nil {
			h.log.Debug("manifest write failed", slog.String("error", err.Error()))
			return
		}
		h.log.Debug("manifest rewritten",
			slog.Int64("post_id", postID),
			slog.String("path", resourcePath))
		if h.metrics != nil {
			h.metrics.IncManifestsRewritten()
		}
		return
	}

	for name, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.Header().Set("Content-Type", resp.ContentType)
	w.WriteHeader(resp.StatusCode)

	rc := http.NewResponseController(w)
	n, err := resp.CopyTo(w, func() { _ = rc.Flush() })
	if h.metrics != nil {
		h.metrics.AddBytesRelayed(n)
		h.metrics.IncSegmentsRelayed()
	}
	if err != nil {
		if r.Context().Err() != nil {
			h.log.Debug("client went away mid-segment",
				slog.Int64("post_id", postID),
				slog.String("path", resourcePath),
				slog.Int64("bytes", n))
			return
		}
		h.log.Warn("segment relay interrupted",
			slog.Int64("post_id", postID),
			slog.String("path", resourcePath),
			slog.Int64("bytes", n),
			slog.String("error", err.Error()))
		if h.metrics != nil {
			h.metrics.IncUpstreamFailure(failureKind(err))
		}
	}
}

func (h *Handler) writePostError(w http.ResponseWriter, err error, channelID string, postID int64) {
	attrs := []any{
		slog.String("channel_id", channelID),
		slog.Int64("post_id", postID),
		slog.String("error", err.Error()),
	}
	switch {
	case errors.Is(err, ErrMissingSessionID), errors.Is(err, ErrInvalidKey):
		writeJSONError(w, http.StatusBadRequest, "Tab ID header missing")
	case errors.Is(err, ErrNotFound):
		h.log.Warn("post has no stream url", attrs...)
		writeJSONError(w, http.StatusNotFound, "Post data or URL not found")
	case errors.Is(err, ErrMalformedCredentials):
		h.log.Warn("post stream url has malformed credentials", attrs...)
		writeJSONError(w, http.StatusUnprocessableEntity, "Stream credentials could not be read")
	case errors.Is(err, ErrPostAPI):
		h.log.Warn("post metadata fetch failed", attrs...)
		writeJSONError(w, http.StatusBadGateway, "Could not fetch video info")
	default:
		h.log.Error("load post failed", attrs...)
		writeJSONError(w, http.StatusInternalServerError, "Internal error")
	}
}

func (h *Handler) writeStreamError(ctx context.Context, w http.ResponseWriter, err error, postID int64, path string) {
	attrs := []any{
		slog.Int64("post_id", postID),
		slog.String("path", path),
		slog.String("error", err.Error()),
	}

	var upErr *UpstreamError
	switch {
	case errors.Is(err, ErrMissingSessionID):
		http.Error(w, "Missing Tab ID", http.StatusBadRequest)
	case errors.Is(err, ErrInvalidKey):
		http.Error(w, "Invalid stream key", http.StatusBadRequest)
	case errors.Is(err, ErrUnauthorized):
		h.log.Debug("no stream credentials for tab", attrs...)
		http.Error(w, "Streaming credentials expired or missing. Please refresh.", http.StatusUnauthorized)
	case errors.As(err, &upErr):
		h.log.Warn("upstream rejected stream request", attrs...)
		h.countFailure(err)
		http.Error(w, "Error proxying request: upstream returned "+strconv.Itoa(upErr.StatusCode), http.StatusBadGateway)
	case errors.Is(err, ErrUpstreamTimeout):
		h.log.Warn("upstream timed out", attrs...)
		h.countFailure(err)
		http.Error(w, "Upstream timed out", http.StatusGatewayTimeout)
	case errors.Is(err, ErrUpstreamTransport):
		h.log.Error("upstream transport failure", attrs...)
		h.countFailure(err)
		http.Error(w, "Error proxying request", http.StatusBadGateway)
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		h.log.Debug("client cancelled stream request", attrs...)
	default:
		h.log.Error("stream proxy failed", attrs...)
		http.Error(w, "Error proxying request", http.StatusInternalServerError)
	}
}

func (h *Handler) countFailure(err error) {
	if h.metrics != nil {
		h.metrics.IncUpstreamFailure(failureKind(err))
	}
}

func (h *Handler) upstreamUserAgent(r *http.Request) string {
	if h.userAgent != "" {
		return h.userAgent
	}
	return r.UserAgent()
}

func failureKind(err error) string {
	var upErr *UpstreamError
	switch {
	case errors.As(err, &upErr):
		return "status"
	case errors.Is(err, ErrUpstreamTimeout):
		return "timeout"
	default:
		return "transport"
	}
}

func accessToken(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get("Authorization")); v != "" {
		return v
	}
	if c, err := r.Cookie(accessTokenName); err == nil {
		return c.Value
	}
	return ""
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
