package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"mdstore/pkg/data"
	"mdstore/pkg/journal"
	"mdstore/pkg/storage"
	"mdstore/pkg/syncer"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	configPath := flag.String("f", "etc/sync.yaml", "the sync config file")
	pattern := flag.String("pattern", "", "override the security pattern, e.g. AAPL@*")
	flag.Parse()

	cfg, err := syncer.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("[main] Failed to load sync config: %v", err)
	}
	if *pattern != "" {
		cfg.Pattern = *pattern
	}

	log.Printf("[main] Sync target: %s", cfg.Endpoint)
	log.Printf("[main] Local root: %s", cfg.LocalRoot)
	if cfg.Pattern != "" {
		log.Printf("[main] Pattern: %s", cfg.Pattern)
	}

	remoteDrive := cfg.BuildRemote()
	localDrive, err := storage.NewLocalDrive(cfg.LocalRoot)
	if err != nil {
		log.Fatalf("[main] Bad local root: %v", err)
	}

	types, err := cfg.BuildTypes()
	if err != nil {
		log.Fatalf("[main] Bad data type restriction: %v", err)
	}

	opts := []syncer.SessionOption{
		syncer.WithPattern(cfg.Pattern),
		syncer.WithDataTypes(types),
		syncer.WithProgress(func(stream data.StreamKey, done, total int) {
			log.Printf("[sync] %s: %d/%d", stream, done, total)
		}),
	}
	if cfg.JournalDir != "" {
		opts = append(opts, syncer.WithJournal(journal.NewWriter(cfg.JournalDir)))
	}

	session := syncer.NewSession(remoteDrive, localDrive, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Pattern != "" {
		if secs, err := remoteDrive.LookupSecurities(ctx, cfg.Pattern); err != nil {
			log.Printf("[main] Lookup %q failed: %v", cfg.Pattern, err)
		} else {
			for _, sec := range secs {
				if step := sec.PriceStepText(); step != "" {
					log.Printf("[main] Matched %s (price step %s)", sec.ID, step)
				} else {
					log.Printf("[main] Matched %s", sec.ID)
				}
			}
		}
	}

	summary, err := session.Run(ctx)
	if err != nil {
		log.Fatalf("[main] Sync failed: %v", err)
	}

	log.Printf("[main] Downloaded: %d day files", summary.Downloaded())
	log.Printf("[main] Up to date: %d day files", summary.UpToDate())
	for _, failure := range summary.Failed() {
		log.Printf("[main] Failed: %s %s: %v", failure.Key, failure.Date.Format("2006_01_02"), failure.Err)
	}
	if summary.Partial {
		log.Printf("[main] Session interrupted; partial results kept")
	}
	if len(summary.Failed()) > 0 {
		os.Exit(1)
	}
}
