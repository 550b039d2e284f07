package robusthttp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoRetries(t *testing.T) {
	assert := assert.New(t)

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"message":"upstream down"}`))
	}))
	defer srv.Close()

	c := NewClient(WithTimeout(5 * time.Second))
	resp, err := c.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(http.StatusBadGateway, resp.StatusCode)
	assert.Equal(int32(1), hits.Load())
}

func TestTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(WithTransport(http.DefaultTransport))
	_, err := c.Get(url)
	assert.Error(t, err)
}

func TestNoRetryPolicy(t *testing.T) {
	assert := assert.New(t)

	retry, err := NoRetryPolicy(context.Background(), &http.Response{StatusCode: 500}, nil)
	assert.False(retry)
	assert.NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	retry, err = NoRetryPolicy(ctx, nil, context.Canceled)
	assert.False(retry)
	assert.ErrorIs(err, context.Canceled)
}
