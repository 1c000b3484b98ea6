package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lastmile-ai/aiconfig-sub000/internal/config"
	"github.com/lastmile-ai/aiconfig-sub000/internal/editor"
	"github.com/lastmile-ai/aiconfig-sub000/internal/logger"
	"github.com/lastmile-ai/aiconfig-sub000/internal/model"
)

var (
	editorPort     int
	editorAutosave string
	editorAuditDB  string
)

var editorCmd = &cobra.Command{
	Use:   "editor",
	Short: "Serve the websocket editor backend",
	Run:   runEditor,
}

func init() {
	rootCmd.AddCommand(editorCmd)
	editorCmd.Flags().IntVar(&editorPort, "port", 0, "Listen port (default from .aiconfig.yaml)")
	editorCmd.Flags().StringVar(&editorAutosave, "autosave", "", "Autosave cron expression (default from .aiconfig.yaml)")
	editorCmd.Flags().StringVar(&editorAuditDB, "audit-db", "", "SQLite run audit database path")
}

func runEditor(cmd *cobra.Command, args []string) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if editorPort == 0 {
		editorPort = cfg.Editor.Port
	}
	if editorAutosave == "" {
		editorAutosave = cfg.Editor.Autosave
	}
	if editorAuditDB == "" {
		editorAuditDB = cfg.Editor.AuditDB
	}

	var audit *editor.RunStore
	if editorAuditDB != "" {
		audit, err = editor.NewRunStore(editorAuditDB)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening audit database: %v\n", err)
			os.Exit(1)
		}
		defer audit.Close()
	}

	server := editor.NewServer(editor.Options{
		Registry:     model.Default(),
		Audit:        audit,
		AutosaveSpec: editorAutosave,
	})
	if err := server.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting autosave: %v\n", err)
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", editorPort),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("editor listening on ws://127.0.0.1:%d/ws", editorPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("editor server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctx)
	server.Stop()
}
