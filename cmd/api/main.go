package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"civicdesk.org/internal/auth"
	"civicdesk.org/internal/complaint"
	"civicdesk.org/internal/escalate"
	"civicdesk.org/internal/feed"
	"civicdesk.org/internal/httpapi"
	"civicdesk.org/internal/notify"
	"civicdesk.org/internal/obs"
	"civicdesk.org/internal/store/pg"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	dsn := os.Getenv("CIVICDESK_PG_DSN")
	if dsn == "" {
		log.Fatal("CIVICDESK_PG_DSN is required")
	}
	store, err := pg.Open(dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}

	secret := os.Getenv("CIVICDESK_AUTH_SECRET")
	if secret == "" {
		log.Fatal("CIVICDESK_AUTH_SECRET is required")
	}
	tokens, err := auth.NewTokens(secret)
	if err != nil {
		log.Fatalf("token service: %v", err)
	}
	authSvc, err := auth.NewService(store, tokens)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	mail, closeNotifier := buildNotifier()
	defer closeNotifier()

	eventFeed := feed.New()
	notifier := notify.Fanout{mail, eventFeed}

	complaints, err := complaint.NewService(store, notifier)
	if err != nil {
		log.Fatalf("complaint service: %v", err)
	}

	engine, err := escalate.NewEngine(store, notifier)
	if err != nil {
		log.Fatalf("escalation engine: %v", err)
	}
	sched, err := escalate.NewScheduler(engine,
		escalate.WithInterval(sweepInterval()),
		escalate.WithImmediateSweep(true),
	)
	if err != nil {
		log.Fatalf("scheduler: %v", err)
	}

	schedCtx, stopSched := context.WithCancel(context.Background())
	go sched.Run(schedCtx)

	api := httpapi.New(authSvc, complaints, sched, eventFeed, httpapi.ReadyProbe{DB: store.DB()}, version)

	srv := &http.Server{
		Addr:              listenAddr(),
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting civicdesk-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	stopSched()
	_ = store.Close()
	log.Println("Stopped")
}

// buildNotifier returns the SMTP mailer when configured and a no-op sink
// otherwise, plus a cleanup func.
func buildNotifier() (complaint.Notifier, func()) {
	addr := os.Getenv("CIVICDESK_SMTP_ADDR")
	if addr == "" {
		return notify.NewNoop(), func() {}
	}
	mailer, err := notify.NewMailer(notify.Config{
		Addr:       addr,
		From:       os.Getenv("CIVICDESK_SMTP_FROM"),
		AdminEmail: os.Getenv("CIVICDESK_ADMIN_EMAIL"),
		Username:   os.Getenv("CIVICDESK_SMTP_USER"),
		Password:   os.Getenv("CIVICDESK_SMTP_PASSWORD"),
	})
	if err != nil {
		log.Fatalf("mailer: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := mailer.Verify(ctx); err != nil {
		log.Fatalf("smtp verify: %v", err)
	}
	return mailer, func() { _ = mailer.Close() }
}

func sweepInterval() time.Duration {
	raw := os.Getenv("CIVICDESK_SWEEP_INTERVAL")
	if raw == "" {
		return time.Hour
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		log.Fatalf("invalid CIVICDESK_SWEEP_INTERVAL %q", raw)
	}
	return d
}

func listenAddr() string {
	if addr := os.Getenv("CIVICDESK_LISTEN_ADDR"); addr != "" {
		return addr
	}
	return ":8080"
}
