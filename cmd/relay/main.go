package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ovaphlow/pitchfork/service-reminder/internal/relay"
	"github.com/ovaphlow/pitchfork/service-reminder/pkg/utilities"
)

// relay subscribes to fired-reminder events and logs each one.
func main() {
	_ = godotenv.Load()

	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()
	sugar := lg.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := relay.ConfigFromEnv()
	sub, err := relay.NewSubscriber(ctx, cfg)
	if err != nil {
		sugar.Fatalf("relay subscribe: %v", err)
	}
	defer sub.Close()

	sugar.Infow("relay worker listening", "backend", cfg.Backend)
	err = sub.Subscribe(ctx, func(e relay.Event) {
		sugar.Infow("reminder event",
			"type", e.Type,
			"event_id", e.EventID,
			"reminder_id", e.ReminderID,
			"user_id", e.UserID,
			"title", e.Title,
			"when", e.When,
		)
	})
	if err != nil {
		sugar.Errorw("relay worker stopped", "err", err)
	}
	sugar.Info("goodbye")
}
