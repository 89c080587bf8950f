// Command tablextract extracts tables from a local PDF into spreadsheets
// without running the HTTP server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/tablextract/internal/core"
	"github.com/JonMunkholm/tablextract/internal/extract"
	"github.com/JonMunkholm/tablextract/internal/logging"
	"github.com/JonMunkholm/tablextract/internal/spreadsheet"
	"github.com/JonMunkholm/tablextract/internal/storage"
)

var (
	flavor    string
	outputDir string
	logLevel  string
	timeout   time.Duration
)

var rootCmd = &cobra.Command{
	Use:          "tablextract",
	Short:        "Extract tables from PDF documents into spreadsheets",
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Setup(logLevel, "text")
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flavor, "flavor", "f", "lattice", "detection mode: lattice or stream")
	rootCmd.PersistentFlags().StringVarP(&outputDir, "output", "o", "artifacts", "directory for generated spreadsheets")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", core.DefaultRunTimeout, "maximum run duration")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newService builds a service over the directory holding pdfPath and
// returns it with the document's stored name.
func newService(pdfPath string, workers int) (*core.Service, string, error) {
	abs, err := filepath.Abs(pdfPath)
	if err != nil {
		return nil, "", err
	}

	documents, err := storage.NewStore(filepath.Dir(abs), 0)
	if err != nil {
		return nil, "", fmt.Errorf("open document directory: %w", err)
	}

	sheets, err := spreadsheet.NewWriter(outputDir)
	if err != nil {
		return nil, "", fmt.Errorf("create output directory: %w", err)
	}

	service := core.NewService(
		documents,
		extract.New(extract.DefaultConfig()),
		sheets,
		core.NewSessionIndex(os.DirFS(sheets.Dir())),
		nil,
		core.Options{
			MaxConcurrent: 1,
			RunTimeout:    timeout,
			BatchWorkers:  workers,
		},
	)
	return service, filepath.Base(abs), nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
