package rewrite

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func staticCreds(key, model string) Credentials {
	return func() (string, string) { return key, model }
}

func newTestServer(t *testing.T, status int, body string, hits *int32, check func(*http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		if check != nil {
			check(r)
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRewriteNoCredentialSkipsNetwork(t *testing.T) {
	var hits int32
	srv := newTestServer(t, 200, `{}`, &hits, nil)
	c := NewClient(staticCreds("  ", "m"), WithEndpoint(srv.URL), WithLimiter(nil))

	_, err := c.Rewrite(context.Background(), "")
	require.ErrorIs(t, err, ErrNoCredential)
	require.Equal(t, "NoCredential", ErrorCode(err))
	require.Zero(t, atomic.LoadInt32(&hits), "no request may be sent without a key")
}

func TestRewriteSuccess(t *testing.T) {
	var hits int32
	srv := newTestServer(t, 200, `{"choices":[{"message":{"role":"assistant","content":"  Clear prompt  "}}]}`, &hits,
		func(r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
			require.Equal(t, "application/json", r.Header.Get("Content-Type"))

			var req chatRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.Equal(t, "some/model", req.Model)
			require.Equal(t, 512, req.MaxTokens)
			require.InDelta(t, 0.2, req.Temperature, 1e-9)
			require.Len(t, req.Messages, 2)
			require.Equal(t, "system", req.Messages[0].Role)
			require.Equal(t, Instruction, req.Messages[0].Content)
			require.Equal(t, "user", req.Messages[1].Role)
			require.Equal(t, "messy prompt", req.Messages[1].Content)
		})

	c := NewClient(staticCreds("sk-test", "some/model"), WithEndpoint(srv.URL), WithLimiter(nil))
	out, err := c.Rewrite(context.Background(), "messy prompt")
	require.NoError(t, err)
	require.Equal(t, "Clear prompt", out)
	require.EqualValues(t, 1, atomic.LoadInt32(&hits))
}

func TestRewriteFailSoft(t *testing.T) {
	cases := map[string]string{
		"empty content":  `{"choices":[{"message":{"content":""}}]}`,
		"no choices":     `{"choices":[]}`,
		"not json":       `<html>oops</html>`,
		"blank response": ``,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			var hits int32
			srv := newTestServer(t, 200, body, &hits, nil)
			c := NewClient(staticCreds("k", "m"), WithEndpoint(srv.URL), WithLimiter(nil))
			out, err := c.Rewrite(context.Background(), "keep me")
			require.NoError(t, err)
			require.Equal(t, "keep me", out)
		})
	}
}

func TestRewriteRequestFailed(t *testing.T) {
	var hits int32
	srv := newTestServer(t, 429, `{"error":"rate"}`, &hits, nil)
	c := NewClient(staticCreds("k", "m"), WithEndpoint(srv.URL), WithLimiter(nil))

	_, err := c.Rewrite(context.Background(), "hello")
	var rf *RequestFailedError
	require.ErrorAs(t, err, &rf)
	require.Equal(t, 429, rf.Code)
	require.Equal(t, "RequestFailed_429", ErrorCode(err))
	require.EqualValues(t, 1, atomic.LoadInt32(&hits), "exactly one attempt, no retry")
}

func TestRewriteTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(staticCreds("k", "m"), WithEndpoint(url), WithLimiter(nil))
	_, err := c.Rewrite(context.Background(), "hello")
	var rf *RequestFailedError
	require.ErrorAs(t, err, &rf)
	require.Zero(t, rf.Code)
	require.Equal(t, "RequestFailed_0", ErrorCode(err))
}

func TestRewriteEmptyPromptWithKey(t *testing.T) {
	var hits int32
	srv := newTestServer(t, 200, `{}`, &hits, nil)
	c := NewClient(staticCreds("k", "m"), WithEndpoint(srv.URL), WithLimiter(nil))
	out, err := c.Rewrite(context.Background(), "   ")
	require.NoError(t, err)
	require.Equal(t, "   ", out)
	require.Zero(t, atomic.LoadInt32(&hits))
}

func TestErrorCode(t *testing.T) {
	require.Equal(t, "", ErrorCode(nil))
	require.Equal(t, "boom", ErrorCode(errors.New("boom")))
}
