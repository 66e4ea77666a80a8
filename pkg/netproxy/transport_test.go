package netproxy

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestTransport_MethodGating(t *testing.T) {
	called := false
	next := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		called = true
		return &http.Response{StatusCode: 200, Body: http.NoBody}, nil
	})

	engine := NewEngine(Policy{Mode: ModeLimited})
	tr := &Transport{Engine: engine, Next: next}

	req := httptest.NewRequest(http.MethodPost, "http://example.com", nil)
	_, err := tr.RoundTrip(req)
	assert.Error(t, err)
	assert.False(t, called)
}

func TestTransport_AllowedRequestPassesThrough(t *testing.T) {
	next := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: 200, Body: http.NoBody}, nil
	})

	engine := NewEngine(Policy{Mode: ModeFull})
	tr := &Transport{Engine: engine, Next: next}

	req := httptest.NewRequest(http.MethodGet, "http://93.184.216.34", nil)
	resp, err := tr.RoundTrip(req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}
