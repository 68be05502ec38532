// clauselens-analyze runs the full analysis pipeline on a single contract
// file and prints the report to stdout. Useful for smoke-testing prompts and
// for one-off analyses without a running server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/clauselens/clauselens/internal/analysis"
	"github.com/clauselens/clauselens/internal/contract"
	"github.com/clauselens/clauselens/internal/extract"
	"github.com/clauselens/clauselens/internal/notify"
	"github.com/clauselens/clauselens/internal/report"
	"github.com/clauselens/clauselens/internal/store"
)

func main() {
	_ = godotenv.Load()

	filePath := flag.String("file", "", "contract file to analyze (pdf or text)")
	title := flag.String("title", "", "contract title (defaults to the file name)")
	dbPath := flag.String("db", ":memory:", "SQLite database path (in-memory by default)")
	asJSON := flag.Bool("json", false, "print the record as JSON instead of the markdown report")
	flag.Parse()

	if *filePath == "" {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	kind, ok := contract.KindForFilename(*filePath)
	if !ok {
		log.Fatalf("unsupported file type %q", *filePath)
	}

	text, err := extract.New().ExtractText(*filePath, kind)
	if err != nil {
		log.Fatalf("extract: %v", err)
	}

	st, err := store.New(*dbPath)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer st.Close()

	name := *title
	if name == "" {
		base := filepath.Base(*filePath)
		name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	rec := &contract.Record{
		Title:            name,
		OriginalFilename: filepath.Base(*filePath),
		StoragePath:      *filePath,
		FileKind:         kind,
		Text:             text,
		Status:           contract.StatusPending,
	}
	rec.EnsureDefaults()
	if err := st.Create(ctx, rec); err != nil {
		log.Fatalf("create record: %v", err)
	}

	caller, err := analysis.NewAnthropicCallerFromEnv()
	if err != nil {
		log.Fatalf("llm: %v", err)
	}

	dispatcher := notify.NewDispatcher(nil)
	pipeline := analysis.NewPipeline(st, analysis.NewStages(caller), dispatcher)

	analyzed, err := pipeline.Analyze(ctx, rec.ID)
	if err != nil {
		log.Fatalf("analyze: %v", err)
	}
	dispatcher.Wait()

	if *asJSON {
		blob, err := json.MarshalIndent(analyzed, "", "  ")
		if err != nil {
			log.Fatalf("encode: %v", err)
		}
		fmt.Println(string(blob))
		return
	}
	fmt.Print(report.BuildMarkdown(analyzed))
}
