package relay

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ExpiryMode selects how long stored credentials stay usable.
type ExpiryMode string

const (
	// ExpiryNone keeps entries until they are overwritten.
	ExpiryNone ExpiryMode = "none"
	// ExpiryTTL expires entries a fixed duration after they were stored.
	ExpiryTTL ExpiryMode = "ttl"
	// ExpiryPolicy expires entries at the DateLessThan of their signed policy.
	ExpiryPolicy ExpiryMode = "policy"
)

// ParseExpiryMode parses a configuration value. The empty string is ExpiryNone.
func ParseExpiryMode(s string) (ExpiryMode, error) {
	switch m := ExpiryMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "", ExpiryNone:
		return ExpiryNone, nil
	case ExpiryTTL, ExpiryPolicy:
		return m, nil
	default:
		return "", fmt.Errorf("unknown credential expiry mode %q", s)
	}
}

// ExpiryConfig computes the expiry of a credential entry.
// In ExpiryPolicy mode TTL is the fallback for policies that cannot be decoded.
type ExpiryConfig struct {
	Mode ExpiryMode
	TTL  time.Duration
}

// ExpiresAt returns the instant creds stored at storedAt stop being served,
// or the zero time when they never expire.
func (c ExpiryConfig) ExpiresAt(creds StreamCredentials, storedAt time.Time) time.Time {
	switch c.Mode {
	case ExpiryTTL:
		if c.TTL > 0 {
			return storedAt.Add(c.TTL)
		}
	case ExpiryPolicy:
		if t, err := PolicyExpiry(creds.Policy); err == nil {
			return t
		}
		if c.TTL > 0 {
			return storedAt.Add(c.TTL)
		}
	}
	return time.Time{}
}

type cannedPolicy struct {
	Statement []struct {
		Condition struct {
			DateLessThan struct {
				EpochTime int64 `json:"AWS:EpochTime"`
			} `json:"DateLessThan"`
		} `json:"Condition"`
	} `json:"Statement"`
}

var errNoPolicyExpiry = errors.New("policy has no DateLessThan")

// PolicyExpiry decodes a CloudFront custom policy as carried in a signed URL
// and returns its DateLessThan instant. When several statements are present
// the earliest deadline wins.
func PolicyExpiry(policy string) (time.Time, error) {
	unescaped, err := url.QueryUnescape(policy)
	if err != nil {
		return time.Time{}, fmt.Errorf("unescape policy: %w", err)
	}

	// CloudFront swaps the characters of standard base64 that are unsafe in URLs.
	std := strings.NewReplacer("-", "+", "_", "=", "~", "/").Replace(unescaped)
	raw, err := base64.StdEncoding.DecodeString(std)
	if err != nil {
		return time.Time{}, fmt.Errorf("decode policy: %w", err)
	}

	var p cannedPolicy
	if err := json.Unmarshal(raw, &p); err != nil {
		return time.Time{}, fmt.Errorf("parse policy: %w", err)
	}

	var earliest int64
	for _, st := range p.Statement {
		epoch := st.Condition.DateLessThan.EpochTime
		if epoch > 0 && (earliest == 0 || epoch < earliest) {
			earliest = epoch
		}
	}
	if earliest == 0 {
		return time.Time{}, errNoPolicyExpiry
	}
	return time.Unix(earliest, 0).UTC(), nil
}
