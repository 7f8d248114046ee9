package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ErrPostAPI is returned when the post metadata API fails or answers
// without success.
var ErrPostAPI = errors.New("post metadata api failure")

// PostRequest identifies a post and the user asking for it.
type PostRequest struct {
	ChannelID   string
	PostID      int64
	AccessToken string
	UserAgent   string
	Device      DeviceInfo
}

// PostSource returns the raw metadata of a media post.
type PostSource interface {
	GetPost(ctx context.Context, req PostRequest) (map[string]any, error)
}

// HTTPPostSource reads posts from the channel REST API.
type HTTPPostSource struct {
	baseURL       string
	origin        string
	requestedWith string
	client        *http.Client
}

// NewHTTPPostSource returns a PostSource for the API at baseURL. A nil
// client gets an instrumented client with the given timeout.
func NewHTTPPostSource(baseURL string, cfg RelayConfig, client *http.Client, timeout time.Duration) *HTTPPostSource {
	if client == nil {
		client = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &HTTPPostSource{
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		origin:        cfg.Origin,
		requestedWith: cfg.RequestedWith,
		client:        client,
	}
}

// GetPost implements PostSource. A body without "success": true is an error.
func (s *HTTPPostSource) GetPost(ctx context.Context, req PostRequest) (map[string]any, error) {
	endpoint := s.baseURL + "/media/posts/" + strconv.FormatInt(req.PostID, 10)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPostAPI, err)
	}

	h := httpReq.Header
	h.Set("Accept", "*/*")
	h.Set("Authorization", req.AccessToken)
	h.Set("channel-id", req.ChannelID)
	h.Set("uuid", uuid.NewString())
	h.Set("country", "KR")
	h.Set("language", "ko")
	h.Set("timezone", "Asia/Seoul")
	h.Set("sec-ch-ua", req.Device.clientHints())
	h.Set("sec-ch-ua-mobile", "?1")
	h.Set("sec-ch-ua-platform", `"`+req.Device.OS+`"`)
	if s.origin != "" {
		h.Set("Origin", s.origin)
		h.Set("Referer", strings.TrimSuffix(s.origin, "/")+"/")
	}
	if s.requestedWith != "" {
		h.Set("X-Requested-With", s.requestedWith)
	}
	if req.UserAgent != "" {
		h.Set("User-Agent", req.UserAgent)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPostAPI, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.CopyN(io.Discard, resp.Body, upstreamDrainLimit)
		return nil, fmt.Errorf("%w: status %d", ErrPostAPI, resp.StatusCode)
	}

	var post map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&post); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrPostAPI, err)
	}
	if ok, _ := post["success"].(bool); !ok {
		return nil, fmt.Errorf("%w: unsuccessful response", ErrPostAPI)
	}
	return post, nil
}
