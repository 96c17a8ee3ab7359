// Package cmd provides the CLI entry points for Haral.
//
// Commands:
//   - serve: HTTP API server with the streaming chat protocol
//
// Signal handling and graceful shutdown are implemented via context
// cancellation.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/harshtiwari/haral/internal/log"
)

// Execute is the main entry point for the Haral backend.
func Execute() error {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	logger := log.New(log.Config{Level: level, JSON: os.Getenv("LOG_JSON") != ""})

	if len(os.Args) < 2 {
		runHelp()
		return nil
	}

	switch os.Args[1] {
	case "serve":
		return runServe(logger)
	case "version", "--version", "-v":
		runVersion()
		return nil
	case "help", "--help", "-h":
		runHelp()
		return nil
	default:
		return fmt.Errorf("unknown command: %s", os.Args[1])
	}
}

func runHelp() {
	fmt.Println("Haral - conversational AI assistant backend")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  haral serve [addr]  Start the HTTP API server (default: 127.0.0.1:8000)")
	fmt.Println("  haral --version     Show version information")
	fmt.Println("  haral --help        Show this help")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  GEMINI_API_KEY      Required: Gemini API key")
	fmt.Println("  GOOGLE_API_KEY      Optional: Google Custom Search key")
	fmt.Println("  GOOGLE_CSE_ID       Optional: Custom Search engine id")
	fmt.Println("  YOUTUBE_API_KEY     Optional: YouTube Data API key")
	fmt.Println("  DEBUG               Optional: enable debug logging")
}
