package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"goperf/internal/config"
	"goperf/internal/daemon"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the YAML configuration file")
	mode := flag.String("mode", "run", "One of: run, status, stop")
	flag.Parse()

	// 1. Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	switch *mode {
	case "run":
		runDaemon(cfg)
	case "status":
		showStatus(cfg)
	case "stop":
		requestStop(cfg)
	default:
		log.Fatalf("Unknown mode %q, expected run, status, or stop", *mode)
	}
}

// runDaemon starts the sampler loop and the status API and blocks until a
// shutdown signal arrives.
func runDaemon(cfg *config.Config) {
	log.Println("Starting gp-daemon...")

	// 2. Initialize and start the sampler daemon
	d, err := daemon.New(cfg.Daemon)
	if err != nil {
		log.Fatalf("Failed to create sampler daemon: %v", err)
	}
	if err := d.Start(); err != nil {
		log.Fatalf("Failed to start sampler daemon: %v", err)
	}

	// 3. Serve the status API
	api := daemon.NewStatusServer(d, cfg.Daemon.ListenAddr)
	api.Start()

	// 4. Wait for a shutdown signal for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan

	log.Println("Shutdown signal received, stopping daemon...")
	d.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := api.Shutdown(ctx); err != nil {
		log.Printf("Status API shutdown failed: %v", err)
	}
	log.Println("Shutdown complete.")
}

// showStatus queries a running daemon over HTTP and falls back to reading
// the data directory when no daemon is listening.
func showStatus(cfg *config.Config) {
	body, err := request(cfg.Daemon.ListenAddr, http.MethodGet, "/api/v1/status")
	if err == nil {
		fmt.Println(strings.TrimSpace(body))
		return
	}

	status, rerr := daemon.ReadStatus(cfg.Daemon.DataDir)
	if rerr != nil {
		log.Fatalf("Daemon unreachable (%v) and data directory unreadable: %v", err, rerr)
	}
	fmt.Printf("{\"state\":%q,\"data_dir\":%q,\"retained_files\":%d}\n",
		status.State, status.DataDir, status.RetainedFiles)
}

func requestStop(cfg *config.Config) {
	if _, err := request(cfg.Daemon.ListenAddr, http.MethodPost, "/api/v1/stop"); err != nil {
		log.Fatalf("Failed to stop daemon: %v", err)
	}
	log.Println("Stop requested.")
}

func request(listenAddr, method, path string) (string, error) {
	addr := listenAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}

	req, err := http.NewRequest(method, "http://"+addr+path, nil)
	if err != nil {
		return "", err
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("daemon returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return string(body), nil
}
