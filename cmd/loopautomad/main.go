// cmd/loopautomad/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/loopautoma/loopautoma/internal/daemon"
	"github.com/loopautoma/loopautoma/internal/mcp"
)

func main() {
	// API keys and path overrides may live in a local .env file.
	godotenv.Load()

	if len(os.Args) > 1 && os.Args[1] == "mcp-server" {
		runMCPServer()
		return
	}

	runDaemon()
}

func configPaths() (configPath, profilesDir string) {
	configPath = os.Getenv("LOOPAUTOMA_CONFIG")
	profilesDir = os.Getenv("LOOPAUTOMA_PROFILES_DIR")

	if configPath == "" || profilesDir == "" {
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				fmt.Fprintf(os.Stderr, "error resolving home directory: %v\n", err)
				os.Exit(1)
			}
			base = filepath.Join(home, ".config")
		}
		if configPath == "" {
			configPath = filepath.Join(base, "loopautoma", "config.yaml")
		}
		if profilesDir == "" {
			profilesDir = filepath.Join(base, "loopautoma", "profiles")
		}
	}
	return configPath, profilesDir
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nReceived shutdown signal")
		cancel()
	}()
	return ctx, cancel
}

func runMCPServer() {
	configPath, profilesDir := configPaths()
	d := daemon.New(configPath, profilesDir)

	ctx, cancel := signalContext()
	defer cancel()

	if err := d.Bootstrap(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error initializing daemon: %v\n", err)
		os.Exit(1)
	}

	if err := mcp.NewServer(d).Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func runDaemon() {
	configPath, profilesDir := configPaths()
	d := daemon.New(configPath, profilesDir)

	ctx, cancel := signalContext()
	defer cancel()

	if err := d.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "daemon error: %v\n", err)
		os.Exit(1)
	}
}
