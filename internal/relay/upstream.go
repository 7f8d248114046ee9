package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultContentType     = "application/octet-stream"
	defaultChunkSize       = 8192
	defaultUpstreamTimeout = 30 * time.Second
	defaultMaxManifest     = 4 << 20
	upstreamDrainLimit     = 4 << 10
)

// forwardedHeaders are copied from a segment response to the client.
var forwardedHeaders = []string{
	"Content-Length",
	"Content-Range",
	"Content-Encoding",
	"Accept-Ranges",
	"Cache-Control",
	"ETag",
	"Last-Modified",
}

// RelayConfig configures the upstream side of the proxy.
type RelayConfig struct {
	// ContentHost is the only host requests are sent to.
	ContentHost string

	// Timeout bounds the wait for response headers, the read of a whole
	// manifest, and each wait for more data of a segment.
	Timeout time.Duration

	// ChunkSize is the buffer used to copy segment bodies.
	ChunkSize int

	// MaxManifestBytes caps the decoded size of a playlist.
	MaxManifestBytes int64

	AcceptLanguage string
	Origin         string
	RequestedWith  string
}

// DefaultRelayConfig returns the settings of the reference web client.
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		ContentHost:      "channel-contents.frommyarti.com",
		Timeout:          defaultUpstreamTimeout,
		ChunkSize:        defaultChunkSize,
		MaxManifestBytes: defaultMaxManifest,
		AcceptLanguage:   "fr-FR,fr;q=0.9,en-US;q=0.8,en;q=0.7",
		Origin:           "https://channel.frommyarti.com",
		RequestedWith:    "com.knowmerce.fromm.fan",
	}
}

// NewUpstreamClient returns an HTTP client for the content host. Response
// headers must arrive within headerTimeout; overall deadlines come from the
// request context. Compression is handled by the relay itself.
func NewUpstreamClient(headerTimeout time.Duration) *http.Client {
	base := http.DefaultTransport.(*http.Transport).Clone()
	base.ResponseHeaderTimeout = headerTimeout
	base.DisableCompression = true
	return &http.Client{
		Transport: otelhttp.NewTransport(base),
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// FetchRequest describes one proxied manifest or segment.
type FetchRequest struct {
	Resource    ResourceDescriptor
	Credentials StreamCredentials
	UserAgent   string
	Device      DeviceInfo
	// Range is forwarded verbatim when set.
	Range string
}

// UpstreamResponse is a successful answer from the content host. For a
// manifest, Manifest holds the rewritten playlist and Body is nil. For a
// segment, Body streams the upstream bytes and must be closed.
type UpstreamResponse struct {
	StatusCode  int
	ContentType string
	Header      http.Header
	Manifest    string
	Body        io.ReadCloser

	chunkSize int
}

// IsManifest reports whether the response carries a rewritten playlist.
func (r *UpstreamResponse) IsManifest() bool {
	return r.Body == nil
}

// Close releases the upstream connection. Safe to call more than once.
func (r *UpstreamResponse) Close() error {
	if r.Body == nil {
		return nil
	}
	return r.Body.Close()
}

// CopyTo streams the segment body to w one chunk at a time, calling flush
// after each chunk so players receive data as it arrives. It stops at the
// first read or write error.
func (r *UpstreamResponse) CopyTo(w io.Writer, flush func()) (int64, error) {
	if r.Body == nil {
		n, err := io.WriteString(w, r.Manifest)
		return int64(n), err
	}

	buf := make([]byte, r.chunkSize)
	var written int64
	for {
		n, rerr := r.Body.Read(buf)
		if n > 0 {
			m, werr := w.Write(buf[:n])
			written += int64(m)
			if werr != nil {
				return written, werr
			}
			if flush != nil {
				flush()
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, classifyUpstreamErr(nil, rerr)
		}
	}
}

// Relay fetches manifests and segments from the content host.
// It never retries: players have their own retry logic.
type Relay struct {
	cfg    RelayConfig
	client *http.Client
}

// NewRelay returns a Relay. A nil client gets NewUpstreamClient with a
// header timeout equal to cfg.Timeout.
func NewRelay(cfg RelayConfig, client *http.Client) *Relay {
	def := DefaultRelayConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.MaxManifestBytes <= 0 {
		cfg.MaxManifestBytes = def.MaxManifestBytes
	}
	if client == nil {
		client = NewUpstreamClient(cfg.Timeout)
	}
	return &Relay{cfg: cfg, client: client}
}

// ContentHost returns the host requests are sent to.
func (rl *Relay) ContentHost() string {
	return rl.cfg.ContentHost
}

// Fetch requests https://{ContentHost}/{path} with the cookie and browser
// headers built from req. Manifests are read whole and rewritten to route
// through the proxy, all within the relay timeout. Segments are returned as
// an open stream: the timeout then applies to each wait for more data, so a
// long segment that keeps arriving is never cut off.
func (rl *Relay) Fetch(ctx context.Context, req FetchRequest) (*UpstreamResponse, error) {
	fetchCtx, cancel := context.WithCancel(ctx)
	wd := newWatchdog(rl.cfg.Timeout, cancel)
	release := func() {
		wd.stop()
		cancel()
	}

	target := "https://" + rl.cfg.ContentHost + "/" + req.Resource.ResourcePath
	httpReq, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, target, nil)
	if err != nil {
		release()
		return nil, fmt.Errorf("%w: build request: %v", ErrUpstreamTransport, err)
	}
	rl.setHeaders(httpReq, req)

	resp, err := rl.client.Do(httpReq)
	if err != nil {
		release()
		return nil, wd.classify(ctx, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.CopyN(io.Discard, resp.Body, upstreamDrainLimit)
		_ = resp.Body.Close()
		release()
		return nil, &UpstreamError{StatusCode: resp.StatusCode}
	}

	if req.Resource.IsManifest() {
		defer release()
		defer resp.Body.Close()

		body, err := rl.readManifest(resp)
		if err != nil {
			return nil, wd.classify(ctx, err)
		}
		rw := NewManifestRewriter(req.Resource.ResourceID, req.Resource.ResourcePath, rl.cfg.ContentHost)
		return &UpstreamResponse{
			StatusCode:  http.StatusOK,
			ContentType: playlistContentType,
			Header:      http.Header{},
			Manifest:    rw.Rewrite(body),
		}, nil
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = defaultContentType
	}
	header := http.Header{}
	for _, name := range forwardedHeaders {
		if v := resp.Header.Get(name); v != "" {
			header.Set(name, v)
		}
	}

	wd.reset()
	return &UpstreamResponse{
		StatusCode:  resp.StatusCode,
		ContentType: contentType,
		Header:      header,
		Body:        &idleBody{ReadCloser: resp.Body, callerCtx: ctx, wd: wd, release: release},
		chunkSize:   rl.cfg.ChunkSize,
	}, nil
}

func (rl *Relay) setHeaders(httpReq *http.Request, req FetchRequest) {
	h := httpReq.Header
	h.Set("Accept", "*/*")
	h.Set("Accept-Encoding", "gzip, deflate, zstd")
	if rl.cfg.AcceptLanguage != "" {
		h.Set("Accept-Language", rl.cfg.AcceptLanguage)
	}
	h.Set("Cookie", req.Credentials.CookieHeader())
	if rl.cfg.Origin != "" {
		h.Set("Origin", rl.cfg.Origin)
		h.Set("Referer", strings.TrimSuffix(rl.cfg.Origin, "/")+"/")
	}
	h.Set("sec-ch-ua", req.Device.clientHints())
	h.Set("sec-ch-ua-mobile", "?1")
	h.Set("sec-ch-ua-platform", `"`+req.Device.OS+`"`)
	h.Set("Sec-Fetch-Dest", "empty")
	h.Set("Sec-Fetch-Mode", "cors")
	h.Set("Sec-Fetch-Site", "same-site")
	if req.UserAgent != "" {
		h.Set("User-Agent", req.UserAgent)
	}
	if rl.cfg.RequestedWith != "" {
		h.Set("X-Requested-With", rl.cfg.RequestedWith)
	}
	if req.Range != "" && !req.Resource.IsManifest() {
		h.Set("Range", req.Range)
	}
}

func (rl *Relay) readManifest(resp *http.Response) (string, error) {
	body, err := decodeBody(resp.Header.Get("Content-Encoding"), resp.Body)
	if err != nil {
		return "", err
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, rl.cfg.MaxManifestBytes+1))
	if err != nil {
		return "", err
	}
	if int64(len(data)) > rl.cfg.MaxManifestBytes {
		return "", fmt.Errorf("%w: manifest exceeds %d bytes", ErrUpstreamTransport, rl.cfg.MaxManifestBytes)
	}
	return string(data), nil
}

// decodeBody undoes the Content-Encoding advertised in the request headers.
func decodeBody(encoding string, r io.Reader) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return io.NopCloser(r), nil
	case "gzip", "x-gzip":
		return gzip.NewReader(r)
	case "deflate":
		return zlib.NewReader(r)
	case "zstd":
		d, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return d.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported content encoding %q", ErrUpstreamTransport, encoding)
	}
}

// classifyUpstreamErr maps a client or body error onto the relay's error
// kinds. A cancelled caller context is returned as is.
func classifyUpstreamErr(callerCtx context.Context, err error) error {
	if callerCtx != nil && callerCtx.Err() != nil {
		return callerCtx.Err()
	}
	if errors.Is(err, ErrUpstreamTransport) || errors.Is(err, ErrUpstreamTimeout) || errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUpstreamTransport, err)
}

// watchdog cancels a fetch when the content host stays silent for longer
// than its timeout.
type watchdog struct {
	timeout time.Duration
	timer   *time.Timer
	fired   atomic.Bool
}

func newWatchdog(timeout time.Duration, cancel context.CancelFunc) *watchdog {
	wd := &watchdog{timeout: timeout}
	wd.timer = time.AfterFunc(timeout, func() {
		wd.fired.Store(true)
		cancel()
	})
	return wd
}

func (wd *watchdog) reset() {
	if !wd.fired.Load() {
		wd.timer.Reset(wd.timeout)
	}
}

func (wd *watchdog) stop() {
	wd.timer.Stop()
}

// classify is classifyUpstreamErr for errors caused by the watchdog's own
// cancellation.
func (wd *watchdog) classify(callerCtx context.Context, err error) error {
	if callerCtx.Err() != nil {
		return callerCtx.Err()
	}
	if wd.fired.Load() {
		return fmt.Errorf("%w: no data for %s", ErrUpstreamTimeout, wd.timeout)
	}
	return classifyUpstreamErr(callerCtx, err)
}

// idleBody is a segment body whose watchdog is rearmed by every read that
// returns data. Close releases the fetch.
type idleBody struct {
	io.ReadCloser
	callerCtx context.Context
	wd        *watchdog
	release   func()
}

func (b *idleBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if n > 0 {
		b.wd.reset()
	}
	if err != nil && err != io.EOF {
		err = b.wd.classify(b.callerCtx, err)
	}
	return n, err
}

func (b *idleBody) Close() error {
	err := b.ReadCloser.Close()
	b.release()
	return err
}
