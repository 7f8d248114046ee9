package relay

import (
	"path"
	"strings"
	"time"
)

// Cookie and query parameter names of a CloudFront signed URL, in the order
// they are sent upstream.
const (
	ParamKeyPairID = "CloudFront-Key-Pair-Id"
	ParamSignature = "CloudFront-Signature"
	ParamPolicy    = "CloudFront-Policy"
)

// StreamCredentials are the signed-URL parameters that authorize requests
// against the content host. Values are kept exactly as they appeared in the
// signed URL's query string.
type StreamCredentials struct {
	KeyPairID string `json:"key_pair_id"`
	Signature string `json:"signature"`
	Policy    string `json:"policy"`
}

// CookieHeader renders the credentials as a Cookie header value.
func (c StreamCredentials) CookieHeader() string {
	return ParamKeyPairID + "=" + c.KeyPairID + "; " +
		ParamSignature + "=" + c.Signature + "; " +
		ParamPolicy + "=" + c.Policy
}

// Key identifies one credential entry: a browser tab and the post it plays.
type Key struct {
	ClientSessionID string
	ResourceID      int64
}

func (k Key) valid() bool {
	return k.ClientSessionID != "" && k.ResourceID > 0
}

// entry is a stored credential set with its bookkeeping timestamps.
// A zero ExpiresAt means the entry never expires.
type entry struct {
	Creds     StreamCredentials `json:"creds"`
	StoredAt  time.Time         `json:"stored_at"`
	ExpiresAt time.Time         `json:"expires_at,omitzero"`
}

func (e entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// ResourceDescriptor is a manifest or segment requested through the proxy.
type ResourceDescriptor struct {
	ResourcePath  string
	ResourceID    int64
	BaseDirectory string
}

// NewResourceDescriptor derives the base directory of resourcePath.
// A path at the root yields an empty BaseDirectory.
func NewResourceDescriptor(resourceID int64, resourcePath string) ResourceDescriptor {
	p := strings.TrimLeft(resourcePath, "/")
	dir := path.Dir(p)
	if dir == "." || dir == "/" {
		dir = ""
	}
	return ResourceDescriptor{
		ResourcePath:  p,
		ResourceID:    resourceID,
		BaseDirectory: dir,
	}
}

// IsManifest reports whether the resource is an HLS playlist.
func (d ResourceDescriptor) IsManifest() bool {
	return strings.HasSuffix(strings.ToLower(d.ResourcePath), manifestExt)
}

// DeviceInfo describes the client device the upstream requests pretend to
// come from.
type DeviceInfo struct {
	OS        string `json:"os"`
	OSVersion string `json:"os_version"`
	Model     string `json:"model"`
}

// Extraction is the result of pulling credentials out of a post response.
// Post is the response body, unmodified.
type Extraction struct {
	Credentials StreamCredentials
	Post        map[string]any
}
