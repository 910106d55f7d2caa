package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/PabloGalante/pocketpal/internal/adapters/auth/identitytoolkit"
	"github.com/PabloGalante/pocketpal/internal/adapters/notify"
	firestorestore "github.com/PabloGalante/pocketpal/internal/adapters/storage/firestore"
	memstore "github.com/PabloGalante/pocketpal/internal/adapters/storage/memory"
	sqlitestore "github.com/PabloGalante/pocketpal/internal/adapters/storage/sqlite"
	"github.com/PabloGalante/pocketpal/internal/adapters/terminal"
	"github.com/PabloGalante/pocketpal/internal/app/companion"
	"github.com/PabloGalante/pocketpal/internal/app/session"
	"github.com/PabloGalante/pocketpal/internal/config"
	"github.com/PabloGalante/pocketpal/internal/domain"
	"github.com/PabloGalante/pocketpal/internal/observability"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "pocketpal:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := observability.Init(os.Stderr, cfg.LogLevel)

	// Auth: local accounts or Identity Toolkit by mode
	var auth domain.AuthProvider
	switch cfg.Mode {
	case config.ModeFirebase:
		log.Info("using identity toolkit auth", "base_url", cfg.IdentityURL)
		auth = identitytoolkit.NewClient(cfg.IdentityURL, cfg.FirebaseAPIKey)
	default:
		log.Info("using local auth")
		auth = memstore.NewAuthProvider()
	}

	// Storage: Firestore, SQLite or memory
	var gateway domain.CompanionGateway
	switch cfg.StorageBackend {
	case config.BackendFirestore:
		log.Info("using firestore storage", "project", cfg.GCPProjectID)
		fsStore, err := firestorestore.NewStore(ctx, cfg.GCPProjectID)
		if err != nil {
			return fmt.Errorf("initializing firestore store: %w", err)
		}
		defer fsStore.Close()
		gateway = fsStore

	case config.BackendSQLite:
		log.Info("using sqlite storage", "path", cfg.SQLitePath)
		sqlStore, err := sqlitestore.Open(cfg.SQLitePath)
		if err != nil {
			return fmt.Errorf("initializing sqlite store: %w", err)
		}
		defer sqlStore.Close()
		gateway = sqlStore

	default:
		log.Info("using in-memory storage")
		gateway = memstore.NewCompanionStore()
	}

	// Reminders are printed when they fire
	reminderLog := observability.WithFields("component", "reminders")
	scheduler := notify.NewScheduler(cfg.NotifyPermission, func(r domain.Reminder) {
		reminderLog.Info("reminder delivered", "reminder_id", r.ID, "mood", r.Mood)
		fmt.Fprintf(os.Stdout, "\n🔔 %s\n   %s\n", r.Title, r.Body)
	})
	defer func() { _ = scheduler.CancelAllReminders(context.Background()) }()

	gate := session.NewGate(auth, gateway, scheduler, companion.Options{HistoryLimit: cfg.HistoryLimit})
	defer gate.Close(context.Background())

	go gate.Watch(ctx)

	shell := terminal.NewShell(gate, os.Stdin, os.Stdout)
	errc := make(chan error, 1)
	go func() { errc <- shell.Run(ctx) }()

	// stdin reads do not observe ctx, so an interrupt returns without waiting for input
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		log.Info("shutting down")
		return nil
	}
}
