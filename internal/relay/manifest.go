package relay

import (
	"net/url"
	"strconv"
	"strings"
)

const (
	manifestExt         = ".m3u8"
	playlistContentType = "application/vnd.apple.mpegurl"
)

// LineKind classifies a manifest line.
type LineKind int

const (
	// LineBlank is empty or whitespace only.
	LineBlank LineKind = iota
	// LineTag starts with '#': a comment or an HLS directive.
	LineTag
	// LineURI references a media segment or a sub-playlist.
	LineURI
)

// ClassifyLine returns the kind of a single manifest line.
func ClassifyLine(line string) LineKind {
	if strings.HasPrefix(line, "#") {
		return LineTag
	}
	if strings.TrimSpace(line) == "" {
		return LineBlank
	}
	return LineURI
}

// ProxyRoot returns the proxy path of the content host root for a post.
func ProxyRoot(resourceID int64) string {
	return "/stream/p" + strconv.FormatInt(resourceID, 10) + "/"
}

// ProxyPrefix returns the path that relative references of the manifest at
// resourcePath resolve against when requested through the proxy:
// /stream/p{id}/{dir}/ or /stream/p{id}/ for a manifest at the root.
func ProxyPrefix(resourceID int64, resourcePath string) string {
	d := NewResourceDescriptor(resourceID, resourcePath)
	prefix := ProxyRoot(resourceID)
	if d.BaseDirectory != "" {
		prefix += d.BaseDirectory + "/"
	}
	return collapseSlashes(prefix)
}

// ManifestRewriter routes the references of one manifest back through the
// proxy, resolving them the way a player would against the content host.
type ManifestRewriter struct {
	root        string
	prefix      string
	contentHost string
}

// NewManifestRewriter returns a rewriter for the manifest at resourcePath of
// post resourceID, served upstream by contentHost.
func NewManifestRewriter(resourceID int64, resourcePath, contentHost string) ManifestRewriter {
	return ManifestRewriter{
		root:        ProxyRoot(resourceID),
		prefix:      ProxyPrefix(resourceID, resourcePath),
		contentHost: contentHost,
	}
}

// Rewrite rewrites every URI line of body. Tag lines are copied byte for
// byte and blank lines are left alone. Relative references get the manifest's
// directory prefix, root-relative ones and absolute URLs on the content host
// get the post root, and URLs on other hosts are not touched. Line endings,
// including a trailing '\r', are kept.
func (m ManifestRewriter) Rewrite(body string) string {
	lines := strings.Split(body, "\n")

	var b strings.Builder
	b.Grow(len(body) + len(lines)*len(m.prefix))

	for i, line := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		if ClassifyLine(line) != LineURI {
			b.WriteString(line)
			continue
		}

		content := strings.TrimRight(line, "\r")
		ref, ok := m.resolve(strings.TrimSpace(content))
		if !ok {
			b.WriteString(line)
			continue
		}
		b.WriteString(ref)
		b.WriteString(line[len(content):])
	}

	return b.String()
}

// resolve maps one URI reference to its proxy path. It reports false for
// references that must reach their host directly.
func (m ManifestRewriter) resolve(uri string) (string, bool) {
	u, err := url.Parse(uri)
	if err != nil {
		return m.prefix + uri, true
	}

	if u.Scheme != "" || u.Host != "" {
		if !m.sameHost(u) {
			return "", false
		}
		ref := m.root + strings.TrimLeft(u.EscapedPath(), "/")
		if u.RawQuery != "" {
			ref += "?" + u.RawQuery
		}
		return ref, true
	}

	if strings.HasPrefix(uri, "/") {
		return m.root + strings.TrimLeft(uri, "/"), true
	}
	return m.prefix + uri, true
}

func (m ManifestRewriter) sameHost(u *url.URL) bool {
	if m.contentHost == "" || !strings.EqualFold(u.Host, m.contentHost) {
		return false
	}
	return u.Scheme == "" || strings.EqualFold(u.Scheme, "https") || strings.EqualFold(u.Scheme, "http")
}

func collapseSlashes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevSlash := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteByte(c)
	}
	return b.String()
}
