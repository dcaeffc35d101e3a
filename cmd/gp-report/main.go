package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"time"

	"goperf/internal/config"
	"goperf/internal/correlate"
	"goperf/internal/sink"
	"goperf/internal/track"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the YAML configuration file")
	window := flag.Duration("window", time.Hour, "How far back to correlate records against system samples")
	session := flag.String("session", "", "Only include records from this session ID")
	flag.Parse()

	// 1. Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 2. Rebuild a record store from the local sink's flush files
	batches, err := sink.ReadAll(cfg.Storage.Local.Directory)
	if err != nil {
		log.Fatalf("Failed to read local batches: %v", err)
	}

	store := track.NewStore()
	for _, batch := range batches {
		if *session != "" && batch.SessionID != *session {
			continue
		}
		for _, rec := range batch.Records {
			store.Record(rec)
		}
	}

	// 3. Join against the daemon's metric files
	to := time.Now()
	from := to.Add(-*window)
	report, err := correlate.Correlate(store, cfg.Daemon.DataDir, from, to)
	if err != nil {
		log.Fatalf("Failed to correlate: %v", err)
	}
	if !report.SamplesAvailable {
		log.Println("No system samples found for the window; report contains timing data only.")
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Fatalf("Failed to marshal report: %v", err)
	}
	fmt.Println(string(out))
}
