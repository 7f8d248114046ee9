package relay

import (
	"net/url"
	"strings"
	"testing"
)

func TestProxyPrefix(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"video.m3u8", "/stream/p7/"},
		{"/video.m3u8", "/stream/p7/"},
		{"hls/master.m3u8", "/stream/p7/hls/"},
		{"hls/1080p/index.m3u8", "/stream/p7/hls/1080p/"},
		{"hls//1080p//index.m3u8", "/stream/p7/hls/1080p/"},
		{"//hls/master.m3u8", "/stream/p7/hls/"},
	}
	for _, tt := range tests {
		if got := ProxyPrefix(7, tt.path); got != tt.want {
			t.Errorf("ProxyPrefix(7, %q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestManifestRewriter_master_playlist(t *testing.T) {
	master := "#EXTM3U\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=5000000,RESOLUTION=1920x1080\n" +
		"1080p/index.m3u8\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=1500000,RESOLUTION=854x480\n" +
		"480p/index.m3u8\n"

	out := NewManifestRewriter(42, "hls/master.m3u8", "cdn.example").Rewrite(master)

	if !strings.Contains(out, "\n/stream/p42/hls/1080p/index.m3u8\n") {
		t.Errorf("expected rewritten 1080p reference: %s", out)
	}
	// The rewritten reference must land on the original path once the proxy
	// strips its own prefix.
	ref := "/stream/p42/hls/1080p/index.m3u8"
	if got := strings.TrimPrefix(ref, "/stream/p42/"); got != "hls/1080p/index.m3u8" {
		t.Errorf("resolved path = %q", got)
	}
}

func TestManifestRewriter_tags_are_byte_identical(t *testing.T) {
	in := "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-KEY:METHOD=AES-128,URI=\"key.bin\"\n#EXTINF:6.006,\nseg0.ts\n#EXT-X-ENDLIST"
	out := NewManifestRewriter(1, "video.m3u8", "cdn.example").Rewrite(in)

	inLines := strings.Split(in, "\n")
	outLines := strings.Split(out, "\n")
	if len(inLines) != len(outLines) {
		t.Fatalf("line count changed: %d -> %d", len(inLines), len(outLines))
	}
	for i, line := range inLines {
		if strings.HasPrefix(line, "#") && outLines[i] != line {
			t.Errorf("line %d changed: %q -> %q", i, line, outLines[i])
		}
	}
	if outLines[4] != "/stream/p1/seg0.ts" {
		t.Errorf("segment line = %q", outLines[4])
	}
}

func TestManifestRewriter_blank_lines_untouched(t *testing.T) {
	in := "#EXTM3U\n\n#EXTINF:4,\nseg.ts\n   \n"
	want := "#EXTM3U\n\n#EXTINF:4,\n/stream/p1/hls/seg.ts\n   \n"
	if got := NewManifestRewriter(1, "hls/index.m3u8", "cdn.example").Rewrite(in); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestManifestRewriter_crlf_and_absolute(t *testing.T) {
	in := "#EXTM3U\r\n#EXTINF:4,\r\nseg.ts\r\nhttps://other.example/seg2.ts\r\n"
	want := "#EXTM3U\r\n#EXTINF:4,\r\n/stream/p1/seg.ts\r\nhttps://other.example/seg2.ts\r\n"
	if got := NewManifestRewriter(1, "video.m3u8", "cdn.example").Rewrite(in); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestManifestRewriter_resolves_like_the_content_host(t *testing.T) {
	const host = "cdn.example"
	manifest := "https://" + host + "/hls/master.m3u8"
	rw := NewManifestRewriter(42, "hls/master.m3u8", host)

	refs := []string{
		"1080p/index.m3u8",
		"/hls/1080p/index.m3u8",
		"/other/index.m3u8",
		"/hls//720p/index.m3u8",
		"https://" + host + "/hls/480p/index.m3u8",
		"https://CDN.EXAMPLE/keys/k.bin?v=2",
		"seg.ts?start=10",
	}
	base, err := url.Parse(manifest)
	if err != nil {
		t.Fatal(err)
	}
	for _, ref := range refs {
		got := rw.Rewrite(ref)
		if !strings.HasPrefix(got, "/stream/p42/") {
			t.Errorf("%q -> %q: not routed through the proxy", ref, got)
			continue
		}
		want, err := base.Parse(ref)
		if err != nil {
			t.Fatal(err)
		}
		proxied, err := url.Parse(got)
		if err != nil {
			t.Fatal(err)
		}
		upstreamPath := collapseSlashes("/" + strings.TrimPrefix(proxied.Path, "/stream/p42/"))
		if upstreamPath != collapseSlashes(want.Path) {
			t.Errorf("%q -> %q: upstream path %q, content host resolves %q", ref, got, upstreamPath, want.Path)
		}
		if proxied.RawQuery != want.RawQuery {
			t.Errorf("%q -> %q: query %q, want %q", ref, got, proxied.RawQuery, want.RawQuery)
		}
	}
}

func TestManifestRewriter_root_relative(t *testing.T) {
	rw := NewManifestRewriter(42, "hls/master.m3u8", "cdn.example")
	if got := rw.Rewrite("/hls/1080p/index.m3u8\n"); got != "/stream/p42/hls/1080p/index.m3u8\n" {
		t.Errorf("got %q", got)
	}
}

func TestManifestRewriter_foreign_hosts_untouched(t *testing.T) {
	rw := NewManifestRewriter(42, "hls/master.m3u8", "cdn.example")
	for _, ref := range []string{
		"https://ads.example/hls/ad.ts",
		"//ads.example/hls/ad.ts",
		"https://cdn.example.evil/x.ts",
	} {
		if got := rw.Rewrite(ref); got != ref {
			t.Errorf("%q rewritten to %q", ref, got)
		}
	}

	if got := NewManifestRewriter(42, "a.m3u8", "").Rewrite("https://cdn.example/a.ts"); got != "https://cdn.example/a.ts" {
		t.Errorf("without a content host absolute URLs stay as is, got %q", got)
	}
}

func TestProxyRoot(t *testing.T) {
	if got := ProxyRoot(42); got != "/stream/p42/" {
		t.Errorf("ProxyRoot(42) = %q", got)
	}
}

func TestClassifyLine(t *testing.T) {
	tests := map[string]LineKind{
		"":             LineBlank,
		" \t":          LineBlank,
		"#EXTM3U":      LineTag,
		"# comment":    LineTag,
		"seg.ts":       LineURI,
		"1080p/a.m3u8": LineURI,
		"\r":           LineBlank,
	}
	for line, want := range tests {
		if got := ClassifyLine(line); got != want {
			t.Errorf("ClassifyLine(%q) = %v, want %v", line, got, want)
		}
	}
}

func TestNewResourceDescriptor(t *testing.T) {
	d := NewResourceDescriptor(9, "/hls/720p/seg_001.ts")
	if d.ResourcePath != "hls/720p/seg_001.ts" || d.BaseDirectory != "hls/720p" || d.ResourceID != 9 {
		t.Errorf("unexpected descriptor %+v", d)
	}
	if d.IsManifest() {
		t.Error("segment should not be a manifest")
	}
	if !NewResourceDescriptor(9, "video.M3U8").IsManifest() {
		t.Error("extension match should be case-insensitive")
	}
	if NewResourceDescriptor(9, "video.m3u8").BaseDirectory != "" {
		t.Error("root manifest should have no base directory")
	}
}
