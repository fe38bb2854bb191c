package main

import (
	"flag"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/sharding-experiment/slotvault/config"
	"github.com/sharding-experiment/slotvault/internal/node"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "Path to config file (.json or .toml)")
	port := flag.Int("port", 8080, "HTTP port")
	storageDir := flag.String("storage", "", "Directory for persistent state (empty = in-memory)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Warn("No config file found, using defaults", "path", *configPath, "err", err)
		cfg = config.Default()
	}

	// Environment overrides
	if admin := os.Getenv("CUSTODIAN_ADMIN"); admin != "" {
		cfg.Admin = admin
	}
	if envPort := os.Getenv("PORT"); envPort != "" {
		if p, err := strconv.Atoi(envPort); err == nil {
			*port = p
		}
	}
	if outbox := os.Getenv("OUTBOX_URL"); outbox != "" {
		cfg.OutboxURL = outbox
	}
	if *storageDir != "" {
		cfg.StorageDir = *storageDir
	}
	if dir := os.Getenv("STORAGE_DIR"); dir != "" {
		cfg.StorageDir = dir
	}

	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, parseLevel(cfg.LogLevel), false)))

	if cfg.Network.DelayEnabled {
		log.Info("Network delay simulation enabled", "min_ms", cfg.Network.MinDelayMs, "max_ms", cfg.Network.MaxDelayMs)
	}

	n, err := node.New(cfg, nil)
	if err != nil {
		log.Crit("Failed to start custodian", "err", err)
	}
	defer n.Close()

	if err := n.Start(*port); err != nil {
		log.Error("Server stopped", "err", err)
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "trace":
		return log.LevelTrace
	case "debug":
		return log.LevelDebug
	case "warn", "warning":
		return log.LevelWarn
	case "error":
		return log.LevelError
	case "crit":
		return log.LevelCrit
	default:
		return log.LevelInfo
	}
}
