package relay

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errStoreDown = errors.New("store down")

// brokenStore fails every call.
type brokenStore struct{}

func (brokenStore) Put(context.Context, Key, StreamCredentials) error { return errStoreDown }
func (brokenStore) Get(context.Context, Key) (StreamCredentials, bool, error) {
	return StreamCredentials{}, false, errStoreDown
}
func (brokenStore) Delete(context.Context, Key) error { return errStoreDown }
func (brokenStore) Len(context.Context) int           { return 0 }
func (brokenStore) Sweep(context.Context) int         { return 0 }
func (brokenStore) Close() error                      { return nil }

func TestService_LoadPost_stores_credentials(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(ExpiryConfig{})
	posts := &fakePosts{post: signedPost(signedURLFor(testCreds))}
	svc := NewService(store, NewRelay(DefaultRelayConfig(), nil), posts)

	body, err := svc.LoadPost(ctx, "tab-1", PostRequest{ChannelID: "7", PostID: 42, AccessToken: "t"})
	require.NoError(t, err)
	assert.Equal(t, true, body["success"])

	got, ok, err := store.Get(ctx, Key{ClientSessionID: "tab-1", ResourceID: 42})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, testCreds, got)
	assert.Equal(t, 1, svc.StoredCredentials(ctx))
}

func TestService_LoadPost_errors(t *testing.T) {
	ctx := context.Background()
	req := PostRequest{ChannelID: "7", PostID: 42}

	svc := NewService(NewMemoryStore(ExpiryConfig{}), nil, &fakePosts{post: signedPost(signedURLFor(testCreds))})
	_, err := svc.LoadPost(ctx, "", req)
	assert.ErrorIs(t, err, ErrMissingSessionID)

	_, err = NewService(NewMemoryStore(ExpiryConfig{}), nil, nil).LoadPost(ctx, "tab-1", req)
	assert.ErrorIs(t, err, ErrPostAPI)

	svc = NewService(NewMemoryStore(ExpiryConfig{}), nil, &fakePosts{post: map[string]any{"success": true}})
	_, err = svc.LoadPost(ctx, "tab-1", req)
	assert.ErrorIs(t, err, ErrNotFound)

	svc = NewService(brokenStore{}, nil, &fakePosts{post: signedPost(signedURLFor(testCreds))})
	_, err = svc.LoadPost(ctx, "tab-1", req)
	assert.ErrorIs(t, err, errStoreDown)
}

func TestService_Stream_short_circuits(t *testing.T) {
	ctx := context.Background()
	// A nil relay proves the content host is never reached.
	svc := NewService(NewMemoryStore(ExpiryConfig{}), nil, nil)

	_, err := svc.Stream(ctx, StreamRequest{ResourceID: 42, ResourcePath: "a.m3u8"})
	assert.ErrorIs(t, err, ErrMissingSessionID)

	_, err = svc.Stream(ctx, StreamRequest{SessionID: "tab-1", ResourceID: 42, ResourcePath: "a.m3u8"})
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = NewService(brokenStore{}, nil, nil).Stream(ctx, StreamRequest{SessionID: "tab-1", ResourceID: 42, ResourcePath: "a.m3u8"})
	assert.ErrorIs(t, err, errStoreDown)
}
