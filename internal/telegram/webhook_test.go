package telegram

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

func request(method, path, body string, headers map[string]string) *fasthttp.RequestCtx {
	rc := &fasthttp.RequestCtx{}
	rc.Request.Header.SetMethod(method)
	rc.Request.SetRequestURI(path)
	for k, v := range headers {
		rc.Request.Header.Set(k, v)
	}
	if body != "" {
		rc.Request.SetBodyString(body)
	}
	return rc
}

func TestWebhookDispatchesUpdates(t *testing.T) {
	got := make(chan *Update, 1)
	s := NewServer("/hook", "s3cret", func(_ context.Context, u *Update) { got <- u })
	h := s.Handler()

	rc := request("POST", "/hook", `{"update_id":1,"message":{"message_id":2,"chat":{"id":3,"type":"private"},"text":"/start"}}`,
		map[string]string{secretHeader: "s3cret"})
	h(rc)
	assert.Equal(t, fasthttp.StatusOK, rc.Response.StatusCode())

	select {
	case u := <-got:
		require.NotNil(t, u.Message)
		assert.Equal(t, "/start", u.Message.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("update not dispatched")
	}
	require.NoError(t, s.Shutdown(context.Background()))
}

func TestWebhookRejectsBadSecretAndBody(t *testing.T) {
	s := NewServer("/hook", "s3cret", func(context.Context, *Update) { t.Error("must not dispatch") })
	h := s.Handler()

	rc := request("POST", "/hook", `{}`, map[string]string{secretHeader: "nope"})
	h(rc)
	assert.Equal(t, fasthttp.StatusUnauthorized, rc.Response.StatusCode())

	rc = request("POST", "/hook", `not json`, map[string]string{secretHeader: "s3cret"})
	h(rc)
	assert.Equal(t, fasthttp.StatusBadRequest, rc.Response.StatusCode())
}

func TestGetRoutes(t *testing.T) {
	s := NewServer("/hook", "", func(context.Context, *Update) {})
	s.HandleGet("/", func(rc *fasthttp.RequestCtx) { rc.SetBodyString("Bot Started") })
	h := s.Handler()

	rc := request("GET", "/", "", nil)
	h(rc)
	assert.Equal(t, "Bot Started", string(rc.Response.Body()))

	rc = request("GET", "/missing", "", nil)
	h(rc)
	assert.Equal(t, fasthttp.StatusNotFound, rc.Response.StatusCode())
}
