package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-reminder/internal/auth"
	"github.com/ovaphlow/pitchfork/service-reminder/internal/mailer"
	"github.com/ovaphlow/pitchfork/service-reminder/internal/notifier"
	"github.com/ovaphlow/pitchfork/service-reminder/internal/relay"
	"github.com/ovaphlow/pitchfork/service-reminder/internal/reminder"
	reminderrepo "github.com/ovaphlow/pitchfork/service-reminder/internal/reminder/repo"
	"github.com/ovaphlow/pitchfork/service-reminder/internal/router"
	"github.com/ovaphlow/pitchfork/service-reminder/internal/scheduler"
	schedrepo "github.com/ovaphlow/pitchfork/service-reminder/internal/scheduler/repo"
	"github.com/ovaphlow/pitchfork/service-reminder/internal/user"
	userrepo "github.com/ovaphlow/pitchfork/service-reminder/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-reminder/pkg/database"
	"github.com/ovaphlow/pitchfork/service-reminder/pkg/utilities"
)

func main() {
	// load .env file if present so os.Getenv picks values from it
	// this is best-effort: if no .env exists, continue (use defaults or real env)
	_ = godotenv.Load()

	// init logger
	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Info("starting service-reminder")

	// init db
	cfg := database.ConfigFromEnv()
	db, err := database.Connect(cfg)
	if err != nil {
		sugar.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	// graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	users := userrepo.NewUserRepo(db)
	reminders := reminderrepo.NewReminderRepo(db)
	jobs := schedrepo.NewJobRepo(db)
	if err := ensureTables(ctx, users, reminders, jobs); err != nil {
		sugar.Fatalf("ensure tables: %v", err)
	}

	// notification channels
	mail, err := mailer.New(mailer.ConfigFromEnv(), sugar)
	if err != nil {
		sugar.Fatalf("mailer: %v", err)
	}
	relayCfg := relay.ConfigFromEnv()
	pub, err := relay.NewPublisher(ctx, relayCfg, sugar)
	if err != nil {
		sugar.Warnw("event relay unavailable; events will be dropped", "backend", relayCfg.Backend, "err", err)
		pub = relay.Nop{}
	}
	events := relay.NewDispatcher(pub, relayCfg.QueueSize, sugar)

	// scheduler, services, handlers
	clock := clockwork.NewRealClock()
	sched := scheduler.New(jobs, clock, sugar, scheduler.ConfigFromEnv())
	userSvc := user.NewUserService(db, users, nil)
	reminderSvc := reminder.NewService(reminders, sched, clock, sugar)
	fire := notifier.New(reminders, userSvc, mail, events, sched, clock, sugar)

	if err := startScheduler(ctx, sched, reminderSvc, fire, sugar); err != nil {
		sugar.Fatalf("scheduler: %v", err)
	}

	tokens := auth.NewTokenService(auth.ConfigFromEnv(), clock)
	handler := router.RegisterRoutes(sugar, router.Deps{
		Users:       user.NewHandler(userSvc, tokens, sugar),
		Reminders:   reminder.NewHandler(reminderSvc, sugar),
		RequireUser: auth.RequireUser(tokens, userSvc, sugar),
		AuthLimiter: auth.NewIPLimiter(utilities.GetEnvAsInt("AUTH_RATE_PER_MIN", 20)),
		Timers:      sched,
	})
	srv := &http.Server{
		Addr:              utilities.GetEnvAsString("HTTP_ADDR", "0.0.0.0:8432"),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// run server in background
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("http server failed: %v", err)
		}
	}()
	sugar.Infow("service is running; press Ctrl+C to stop", "addr", srv.Addr)

	<-ctx.Done()

	sugar.Info("shutting down")

	// give a short grace period for cleanup
	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// shutdown http server
	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}
	sched.Stop()
	if err := events.Close(); err != nil {
		sugar.Warnf("event relay close failed: %v", err)
	}

	sugar.Info("goodbye")
}

// ensureTables creates the schema; users must exist before reminders
// reference them.
func ensureTables(ctx context.Context, users *userrepo.UserRepo, reminders *reminderrepo.ReminderRepo, jobs *schedrepo.JobRepo) error {
	if err := users.EnsureTable(ctx); err != nil {
		return fmt.Errorf("users: %w", err)
	}
	if err := reminders.EnsureTable(ctx); err != nil {
		return fmt.Errorf("reminders: %w", err)
	}
	if err := jobs.EnsureTable(ctx); err != nil {
		return fmt.Errorf("reminder_jobs: %w", err)
	}
	return nil
}

// startScheduler restores persisted timers, arms any scheduled reminder that
// lost its timer, then starts firing.
func startScheduler(ctx context.Context, sched *scheduler.Scheduler, svc *reminder.Service, n *notifier.Notifier, log *zap.SugaredLogger) error {
	if err := sched.Restore(ctx); err != nil {
		return err
	}
	if _, err := svc.Reconcile(ctx); err != nil {
		log.Errorw("timer reconciliation failed", "err", err)
	}
	return sched.Start(ctx, n.Fire)
}
