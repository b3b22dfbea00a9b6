package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/park285/tictactoe-telegram-bot/internal/boardimg"
	"github.com/park285/tictactoe-telegram-bot/internal/bot"
	"github.com/park285/tictactoe-telegram-bot/internal/broadcast"
	appcfg "github.com/park285/tictactoe-telegram-bot/internal/config"
	"github.com/park285/tictactoe-telegram-bot/internal/janitor"
	"github.com/park285/tictactoe-telegram-bot/internal/msgcat"
	"github.com/park285/tictactoe-telegram-bot/internal/obslog"
	"github.com/park285/tictactoe-telegram-bot/internal/stats"
	"github.com/park285/tictactoe-telegram-bot/internal/telegram"
	"github.com/park285/tictactoe-telegram-bot/internal/tictactoe"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()
	logger := obslog.L()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := tictactoe.OpenRedis(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis_init_error", zap.Error(err))
	}
	defer func() { _ = rdb.Close() }()

	users, err := stats.Open(ctx, cfg.DatabaseURL, cfg.DatabasePath)
	if err != nil {
		logger.Fatal("stats_init_error", zap.Error(err))
	}
	defer func() { _ = users.Close() }()

	cat, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		logger.Fatal("messages_init_error", zap.Error(err))
	}

	store := tictactoe.NewRedisStore(rdb,
		tictactoe.WithReplayWindow(cfg.ReplayWindow),
		tictactoe.WithGameTTL(cfg.GameTTL),
	)
	engine := tictactoe.NewEngine(store, users, tictactoe.WithComputerDelay(cfg.ComputerDelay))

	client := telegram.NewClient(cfg.BotToken, telegram.WithBaseURL(cfg.TelegramAPIURL))
	me, err := client.GetMe(ctx)
	if err != nil {
		logger.Fatal("tg_get_me_error", zap.Error(err))
	}
	logger.Info("tg_bot_identity", zap.Int64("id", me.ID), zap.String("username", me.Username))

	transport := bot.NewTelegramTransport(client)
	bc := broadcast.New(broadcast.NewRedisStatus(rdb), users, transport, cat,
		broadcast.WithBatch(cfg.BroadcastBatch),
		broadcast.WithInterval(cfg.BroadcastInterval),
		broadcast.WithCopy(cfg.BroadcastAsCopy),
	)
	sweeper := janitor.New(store, engine, transport, cat, cfg.StaleGameAge, cfg.JanitorBatch)

	opts := []bot.Option{bot.WithUsername(me.Username), bot.WithBroadcaster(bc, cfg.OwnerID)}
	if cfg.ResultCard {
		opts = append(opts, bot.WithResultCards(boardimg.New()))
	}
	b := bot.New(engine, users, transport, cat, opts...)

	srv := telegram.NewServer(cfg.WebhookPath, cfg.WebhookSecret, b.HandleUpdate)
	srv.HandleGet("/", func(rc *fasthttp.RequestCtx) {
		rc.SetContentType("text/plain; charset=utf-8")
		rc.SetBodyString("Bot Started")
	})
	srv.HandleGet("/clear", func(rc *fasthttp.RequestCtx) {
		n, err := sweeper.Sweep(rc)
		if err != nil {
			rc.SetStatusCode(fasthttp.StatusInternalServerError)
			rc.SetBodyString(err.Error())
			return
		}
		rc.SetContentType("text/plain; charset=utf-8")
		rc.SetBodyString("cleared " + strconv.Itoa(n))
	})

	if cfg.JanitorInterval > 0 {
		go sweeper.Run(ctx, cfg.JanitorInterval)
	}

	errCh := make(chan error, 1)
	switch cfg.UpdateMode {
	case appcfg.ModeWebhook:
		err := client.SetWebhook(ctx, telegram.SetWebhookParams{
			URL:                cfg.WebhookURL(),
			SecretToken:        cfg.WebhookSecret,
			DropPendingUpdates: true,
			AllowedUpdates:     []string{"message", "callback_query"},
		})
		if err != nil {
			logger.Fatal("tg_set_webhook_error", zap.Error(err))
		}
		go func() { errCh <- srv.ListenAndServe(":" + strconv.Itoa(cfg.Port)) }()
	default:
		// the health routes stay reachable while polling
		go func() {
			if err := srv.ListenAndServe(":" + strconv.Itoa(cfg.Port)); err != nil {
				logger.Warn("http_listen_error", zap.Error(err))
			}
		}()
		go func() { errCh <- telegram.NewPoller(client, srv).Run(ctx) }()
	}
	logger.Info("bot_started", zap.String("mode", string(cfg.UpdateMode)), zap.String("username", me.Username))

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("bot_serve_error", zap.Error(err))
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http_shutdown_error", zap.Error(err))
	}
	// an interrupted run leaves the status flag set until the owner cancels it
	waited := make(chan struct{})
	go func() { bc.Wait(); close(waited) }()
	select {
	case <-waited:
	case <-shutdownCtx.Done():
		logger.Warn("broadcast_still_running")
	}
	logger.Info("bot_stopped")
}
