package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"time"

	"goperf/internal/config"
	"goperf/internal/query"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the YAML configuration file")
	session := flag.String("session", "", "Only list uploads from this session ID")
	limit := flag.Int("limit", 100, "Maximum number of uploads to list")
	flag.Parse()

	// 1. Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 2. Connect to the upload table
	q, err := query.NewQuerier(cfg.Storage.ClickHouse)
	if err != nil {
		log.Fatalf("Failed to create querier: %v", err)
	}
	defer q.Close()

	// 3. List uploads, newest first
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	uploads, err := q.ListUploads(ctx, *session, *limit)
	if err != nil {
		log.Fatalf("Failed to list uploads: %v", err)
	}
	if len(uploads) == 0 {
		log.Println("No uploads found.")
		return
	}

	out, err := json.MarshalIndent(uploads, "", "  ")
	if err != nil {
		log.Fatalf("Failed to marshal uploads: %v", err)
	}
	fmt.Println(string(out))
}
