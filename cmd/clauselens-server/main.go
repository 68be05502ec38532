package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/clauselens/clauselens/internal/analysis"
	"github.com/clauselens/clauselens/internal/extract"
	"github.com/clauselens/clauselens/internal/httpapi"
	"github.com/clauselens/clauselens/internal/notify"
	"github.com/clauselens/clauselens/internal/report"
	"github.com/clauselens/clauselens/internal/store"
)

func main() {
	_ = godotenv.Load()

	dbFlag := flag.String("db", "", "path to SQLite database file (overrides DB_PATH env var)")
	dataDir := flag.String("data-dir", "./data/uploads", "directory for uploaded contract files")
	webhook := flag.String("webhook-url", os.Getenv("DEADLINE_WEBHOOK_URL"), "webhook endpoint for upcoming-deadline notifications")
	flag.Parse()

	addr := ":8080"
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}

	dbPath := *dbFlag
	if dbPath == "" {
		dbPath = os.Getenv("DB_PATH")
	}
	if dbPath == "" {
		dbPath = "./data/clauselens.db"
	}

	st, err := store.New(dbPath)
	if err != nil {
		log.Fatalf("failed to initialize sqlite store (%s): %v", dbPath, err)
	}
	defer st.Close()
	log.Printf("using sqlite store at %s", dbPath)

	// A missing API key is not fatal: stages run with their fallbacks and
	// records surface capability_unavailable through last_error.
	var client analysis.CompletionClient
	if caller, err := analysis.NewAnthropicCallerFromEnv(); err != nil {
		log.Printf("llm capability unavailable: %v", err)
	} else {
		client = caller
	}

	var notifier notify.Notifier
	if *webhook != "" {
		notifier = notify.NewWebhookNotifier(*webhook, nil)
		log.Printf("deadline notifications -> %s", *webhook)
	}
	dispatcher := notify.NewDispatcher(notifier)

	pipeline := analysis.NewPipeline(st, analysis.NewStages(client), dispatcher)
	svc := analysis.NewService(pipeline, st)

	handler := httpapi.NewServer(httpapi.Config{
		Store:     st,
		Stats:     st,
		Analyzer:  svc,
		Extractor: extract.New(),
		PDF:       report.NewPDFRenderer(),
		DataDir:   *dataDir,
	})

	srv := &http.Server{Addr: addr, Handler: handler}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	log.Printf("clauselens listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
	dispatcher.Wait()
	log.Println("clauselens stopped")
}
