package relay

import (
	"context"
	"fmt"
)

// Service ties post metadata, the credential store and the relay together.
type Service struct {
	store CredentialStore
	relay *Relay
	posts PostSource
}

// NewService returns a Service. posts may be nil when credentials are only
// ever registered through StoreCredentials.
func NewService(store CredentialStore, relay *Relay, posts PostSource) *Service {
	return &Service{store: store, relay: relay, posts: posts}
}

// LoadPost fetches a post, stores its streaming credentials for the tab
// sessionID and returns the post body to show to the client, with
// master_url promoted to url.
func (s *Service) LoadPost(ctx context.Context, sessionID string, req PostRequest) (map[string]any, error) {
	if sessionID == "" {
		return nil, ErrMissingSessionID
	}
	if s.posts == nil {
		return nil, fmt.Errorf("%w: no post source configured", ErrPostAPI)
	}

	post, err := s.posts.GetPost(ctx, req)
	if err != nil {
		return nil, err
	}

	ext, err := ExtractCredentials(post)
	if err != nil {
		return nil, err
	}
	if err := s.StoreCredentials(ctx, Key{ClientSessionID: sessionID, ResourceID: req.PostID}, ext.Credentials); err != nil {
		return nil, err
	}
	return PresentationBody(ext.Post), nil
}

// StoreCredentials saves creds for key, replacing any previous entry.
func (s *Service) StoreCredentials(ctx context.Context, key Key, creds StreamCredentials) error {
	if err := s.store.Put(ctx, key, creds); err != nil {
		return fmt.Errorf("store credentials: %w", err)
	}
	return nil
}

// StreamRequest is one manifest or segment asked for by a player.
type StreamRequest struct {
	SessionID    string
	ResourceID   int64
	ResourcePath string
	UserAgent    string
	Device       DeviceInfo
	Range        string
}

// Stream looks up the tab's credentials and fetches the resource upstream.
// The content host is not contacted when the session id or the credentials
// are missing.
func (s *Service) Stream(ctx context.Context, req StreamRequest) (*UpstreamResponse, error) {
	if req.SessionID == "" {
		return nil, ErrMissingSessionID
	}

	key := Key{ClientSessionID: req.SessionID, ResourceID: req.ResourceID}
	creds, ok, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	if !ok {
		return nil, ErrUnauthorized
	}

	return s.relay.Fetch(ctx, FetchRequest{
		Resource:    NewResourceDescriptor(req.ResourceID, req.ResourcePath),
		Credentials: creds,
		UserAgent:   req.UserAgent,
		Device:      req.Device,
		Range:       req.Range,
	})
}

// StoredCredentials returns the number of live store entries.
func (s *Service) StoredCredentials(ctx context.Context) int {
	return s.store.Len(ctx)
}
