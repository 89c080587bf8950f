package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/tablextract/internal/core"
)

var workers int

var batchCmd = &cobra.Command{
	Use:   "batch <file.pdf>",
	Short: "Extract every page into one combined spreadsheet",
	Args:  cobra.ExactArgs(1),
	RunE:  runBatch,
}

var pages string

var extractCmd = &cobra.Command{
	Use:   "extract <file.pdf>",
	Short: "Extract selected pages into one spreadsheet per table",
	Long: `Extract selected pages and print progress while the run proceeds.

Pages take the form "all", "3", "1-4", "2-end" or "1,3,5-7".`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

func init() {
	batchCmd.Flags().IntVarP(&workers, "workers", "w", 0, "pages extracted in parallel (default: number of CPUs)")
	extractCmd.Flags().StringVarP(&pages, "pages", "p", "all", "page selection")

	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(extractCmd)
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	service, name, err := newService(args[0], workers)
	if err != nil {
		return err
	}

	summary, err := service.RunBatch(ctx, name, flavor)
	if err != nil {
		return describe(err)
	}
	if !summary.Success {
		return failed(summary.Code, summary.Error)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %d tables, %d rows (%s)\n", summary.Document, summary.TableCount, summary.RowCount, summary.Mode)
	if len(summary.EmptyPages) > 0 {
		fmt.Fprintf(out, "pages without tables: %s\n", joinPages(summary.EmptyPages))
	}
	if len(summary.FailedPages) > 0 {
		fmt.Fprintf(out, "failed pages: %s\n", joinPages(summary.FailedPages))
	}
	if summary.Artifact == "" {
		fmt.Fprintln(out, core.NoTablesMessage)
		return nil
	}
	fmt.Fprintln(out, filepath.Join(outputDir, summary.Artifact))
	return nil
}

func runExtract(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	service, name, err := newService(args[0], 0)
	if err != nil {
		return err
	}

	session, err := service.StartInteractive(ctx, core.ExtractionRequest{Document: name, Pages: pages, Flavor: flavor})
	if err != nil {
		return describe(err)
	}

	ch, err := service.Subscribe(session)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	tr := newPrintTransport(out)
	emitter := core.NewEmitter(0, 0)
	emitter.Grace = 0

	streamed := make(chan struct{})
	go func() {
		defer close(streamed)
		emitter.Stream(context.WithoutCancel(ctx), ch, tr)
	}()

	go func() {
		<-ctx.Done()
		service.Cancel(session)
	}()

	summary, err := service.Result(context.WithoutCancel(ctx), session)
	if err != nil {
		return err
	}
	<-streamed

	if !summary.Success {
		return failed(summary.Code, summary.Error)
	}

	for _, artifact := range summary.Artifacts {
		fmt.Fprintln(out, filepath.Join(outputDir, artifact))
	}
	if summary.TableCount == 0 {
		fmt.Fprintln(out, core.NoTablesMessage)
	}
	return nil
}

// printTransport writes progress events as plain lines. It reports itself
// done after the run's terminal event.
type printTransport struct {
	w    io.Writer
	done chan struct{}
	once sync.Once
}

func newPrintTransport(w io.Writer) *printTransport {
	return &printTransport{w: w, done: make(chan struct{})}
}

func (t *printTransport) Send(ev core.ProgressEvent) error {
	if ev.Type == core.EventKeepalive {
		return nil
	}
	_, err := fmt.Fprintf(t.w, "[%3.0f%%] %s\n", ev.Percentage, ev.Message)
	if ev.Type.IsTerminal() {
		t.once.Do(func() { close(t.done) })
	}
	return err
}

func (t *printTransport) Done() <-chan struct{} {
	return t.done
}

// describe turns err into the user-facing message with its support code.
func describe(err error) error {
	msg := core.MapError(err)
	if msg.Action != "" {
		fmt.Fprintf(os.Stderr, "%s\n", msg.Action)
	}
	return fmt.Errorf("%s [%s]: %w", msg.Message, msg.Code, err)
}

// failed reports a run that finished unsuccessfully.
func failed(code, detail string) error {
	msg := core.MessageForCode(code)
	if msg.Action != "" {
		fmt.Fprintf(os.Stderr, "%s\n", msg.Action)
	}
	return fmt.Errorf("%s [%s]: %s", msg.Message, msg.Code, detail)
}

func joinPages(pages []int) string {
	parts := make([]string, len(pages))
	for i, p := range pages {
		parts[i] = fmt.Sprint(p)
	}
	return strings.Join(parts, ", ")
}
