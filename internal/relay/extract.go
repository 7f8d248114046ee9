package relay

import (
	"fmt"
	"net/url"
	"strings"
)

// ExtractCredentials reads data.post.url from a post metadata response and
// returns the CloudFront parameters embedded in its query string. The
// parameters may appear in any order and alongside other parameters. Values
// are returned as their literal query text so they can be replayed as cookies.
func ExtractCredentials(post map[string]any) (*Extraction, error) {
	raw, ok := signedURL(post)
	if !ok {
		return nil, ErrNotFound
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCredentials, err)
	}

	params, err := rawQueryValues(u.RawQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCredentials, err)
	}

	for _, name := range []string{ParamKeyPairID, ParamSignature, ParamPolicy} {
		if params[name] == "" {
			return nil, fmt.Errorf("%w: %s missing", ErrMalformedCredentials, name)
		}
	}
	creds := StreamCredentials{
		KeyPairID: params[ParamKeyPairID],
		Signature: params[ParamSignature],
		Policy:    params[ParamPolicy],
	}

	return &Extraction{Credentials: creds, Post: post}, nil
}

// PresentationBody returns a shallow copy of post where data.post.url is
// replaced by data.post.master_url when the latter is set. Players then load
// the multi-bitrate master playlist. post itself is not modified.
func PresentationBody(post map[string]any) map[string]any {
	out := make(map[string]any, len(post))
	for k, v := range post {
		out[k] = v
	}

	data, ok := post["data"].(map[string]any)
	if !ok {
		return out
	}
	p, ok := data["post"].(map[string]any)
	if !ok {
		return out
	}
	master, ok := p["master_url"].(string)
	if !ok || master == "" {
		return out
	}

	newPost := make(map[string]any, len(p))
	for k, v := range p {
		newPost[k] = v
	}
	newPost["url"] = master

	newData := make(map[string]any, len(data))
	for k, v := range data {
		newData[k] = v
	}
	newData["post"] = newPost
	out["data"] = newData
	return out
}

func signedURL(post map[string]any) (string, bool) {
	data, ok := post["data"].(map[string]any)
	if !ok {
		return "", false
	}
	p, ok := data["post"].(map[string]any)
	if !ok {
		return "", false
	}
	s, ok := p["url"].(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

// rawQueryValues collects the literal values of the CloudFront parameters
// from a raw query. Names are unescaped for matching; values are validated
// but kept escaped. Unrelated parameters are ignored and the first
// occurrence of a name wins.
func rawQueryValues(rawQuery string) (map[string]string, error) {
	out := make(map[string]string, 3)
	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		name, value, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(name)
		if err != nil {
			continue
		}
		switch key {
		case ParamKeyPairID, ParamSignature, ParamPolicy:
		default:
			continue
		}
		if _, err := url.QueryUnescape(value); err != nil {
			return nil, fmt.Errorf("query value for %q: %w", key, err)
		}
		if _, seen := out[key]; !seen {
			out[key] = value
		}
	}
	return out, nil
}
