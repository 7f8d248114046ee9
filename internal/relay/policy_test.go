package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyExpiry(t *testing.T) {
	got, err := PolicyExpiry(encodePolicy(1760000000))
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1760000000, 0).UTC(), got)
}

func TestPolicyExpiry_percent_escaped(t *testing.T) {
	// Some signers percent-escape the URL-safe alphabet once more.
	escaped := ""
	for _, r := range encodePolicy(1760000000) {
		if r == '~' {
			escaped += "%7E"
			continue
		}
		escaped += string(r)
	}
	got, err := PolicyExpiry(escaped)
	require.NoError(t, err)
	assert.Equal(t, int64(1760000000), got.Unix())
}

func TestPolicyExpiry_invalid(t *testing.T) {
	for _, p := range []string{"", "not-base64!!", "e30_", "%zz"} {
		_, err := PolicyExpiry(p)
		assert.Error(t, err, "policy %q", p)
	}
}

func TestParseExpiryMode(t *testing.T) {
	for in, want := range map[string]ExpiryMode{
		"":         ExpiryNone,
		"none":     ExpiryNone,
		"TTL":      ExpiryTTL,
		" policy ": ExpiryPolicy,
	} {
		got, err := ParseExpiryMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseExpiryMode("forever")
	assert.Error(t, err)
}

func TestExpiryConfig_ExpiresAt(t *testing.T) {
	stored := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	deadline := stored.Add(2 * time.Hour)
	withPolicy := StreamCredentials{Policy: encodePolicy(deadline.Unix())}
	garbage := StreamCredentials{Policy: "garbage"}

	tests := []struct {
		name  string
		cfg   ExpiryConfig
		creds StreamCredentials
		want  time.Time
	}{
		{"none", ExpiryConfig{Mode: ExpiryNone, TTL: time.Hour}, withPolicy, time.Time{}},
		{"ttl", ExpiryConfig{Mode: ExpiryTTL, TTL: time.Hour}, withPolicy, stored.Add(time.Hour)},
		{"ttl without duration", ExpiryConfig{Mode: ExpiryTTL}, withPolicy, time.Time{}},
		{"policy", ExpiryConfig{Mode: ExpiryPolicy, TTL: time.Minute}, withPolicy, deadline},
		{"policy fallback to ttl", ExpiryConfig{Mode: ExpiryPolicy, TTL: time.Minute}, garbage, stored.Add(time.Minute)},
		{"policy without fallback", ExpiryConfig{Mode: ExpiryPolicy}, garbage, time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.want.Equal(tt.cfg.ExpiresAt(tt.creds, stored)), "got %v want %v", tt.cfg.ExpiresAt(tt.creds, stored), tt.want)
		})
	}
}
