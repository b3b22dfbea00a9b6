package telegram

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"sync"

	"github.com/park285/tictactoe-telegram-bot/internal/obslog"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// UpdateHandler processes one update. It runs on its own goroutine.
type UpdateHandler func(ctx context.Context, u *Update)

const secretHeader = "X-Telegram-Bot-Api-Secret-Token"

// Server receives webhook updates and serves a few GET endpoints over fasthttp.
type Server struct {
	path   string
	secret string
	handle UpdateHandler
	gets   map[string]fasthttp.RequestHandler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	srv    *fasthttp.Server
}

func NewServer(path, secret string, h UpdateHandler) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		path:   path,
		secret: secret,
		handle: h,
		gets:   make(map[string]fasthttp.RequestHandler),
		ctx:    ctx,
		cancel: cancel,
	}
	s.srv = &fasthttp.Server{Handler: s.Handler(), Name: "tictactoe-bot"}
	return s
}

// HandleGet registers a GET route.
func (s *Server) HandleGet(path string, h fasthttp.RequestHandler) { s.gets[path] = h }

// Handler returns the router, for use with an external listener or in tests.
func (s *Server) Handler() fasthttp.RequestHandler {
	return func(rc *fasthttp.RequestCtx) {
		path := string(rc.Path())
		switch {
		case rc.IsPost() && path == s.path:
			s.serveUpdate(rc)
		case rc.IsGet():
			if h, ok := s.gets[path]; ok {
				h(rc)
				return
			}
			rc.SetStatusCode(fasthttp.StatusNotFound)
		default:
			rc.SetStatusCode(fasthttp.StatusNotFound)
		}
	}
}

func (s *Server) serveUpdate(rc *fasthttp.RequestCtx) {
	if s.secret != "" {
		got := rc.Request.Header.Peek(secretHeader)
		if subtle.ConstantTimeCompare(got, []byte(s.secret)) != 1 {
			rc.SetStatusCode(fasthttp.StatusUnauthorized)
			return
		}
	}
	var u Update
	if err := json.Unmarshal(rc.PostBody(), &u); err != nil {
		obslog.L().Warn("tg_webhook_decode_error", zap.Error(err))
		rc.SetStatusCode(fasthttp.StatusBadRequest)
		return
	}
	// ack right away; handlers may sleep (computer reply) or call the API several times
	rc.SetStatusCode(fasthttp.StatusOK)
	s.Dispatch(&u)
}

// Dispatch runs the handler for u on a tracked goroutine.
func (s *Server) Dispatch(u *Update) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				obslog.L().Error("tg_update_panic", zap.Int64("update_id", u.UpdateID), zap.Any("panic", r))
			}
		}()
		s.handle(s.ctx, u)
	}()
}

func (s *Server) ListenAndServe(addr string) error {
	obslog.L().Info("tg_webhook_listen", zap.String("addr", addr), zap.String("path", redactPath(s.path)))
	return s.srv.ListenAndServe(addr)
}

// Shutdown stops accepting requests and waits for in-flight handlers until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.srv.ShutdownWithContext(ctx)
	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
		s.cancel()
	}
	s.cancel()
	return err
}

// the default path embeds the bot token
func redactPath(p string) string {
	if len(p) > 12 {
		return p[:12] + "..."
	}
	return p
}
