package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/park285/tictactoe-telegram-bot/internal/telegram"
)

func main() {
	token := os.Getenv("BOT_TOKEN")
	if token == "" {
		log.Fatal("BOT_TOKEN is required")
	}

	client := telegram.NewClient(token,
		telegram.WithBaseURL(os.Getenv("TELEGRAM_API_URL")),
		telegram.WithTimeout(8*time.Second),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	me, err := client.GetMe(ctx)
	if err != nil {
		log.Fatalf("getMe error: %v", err)
	}
	log.Printf("getMe ok: id=%d username=@%s", me.ID, me.Username)

	info, err := client.GetWebhookInfo(ctx)
	if err != nil {
		log.Printf("getWebhookInfo error: %v", err)
		return
	}
	if info.URL == "" {
		log.Println("no webhook set; updates are delivered by polling")
		return
	}
	log.Printf("webhook: url=%s pending=%d", info.URL, info.PendingUpdateCount)
	if info.LastErrorMessage != "" {
		log.Printf("last webhook error at %s: %s", time.Unix(info.LastErrorDate, 0).UTC().Format(time.RFC3339), info.LastErrorMessage)
	}
}
