package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/booksnap/booksnap/internal/config"
	"github.com/booksnap/booksnap/internal/download"
	"github.com/booksnap/booksnap/internal/event"
	"github.com/booksnap/booksnap/internal/library"
	"github.com/booksnap/booksnap/internal/source"
)

// Exit codes by failure kind, so scripts can tell a bad URL from a
// flaky source.
const (
	exitUsage    = 2
	exitMetadata = 3
	exitPage     = 4
	exitBuild    = 5
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var (
		merr *download.MetadataError
		perr *download.PageError
		berr *download.BuildError
	)
	switch {
	case errors.Is(err, source.ErrInvalidURL), errors.Is(err, source.ErrUnsupportedSource):
		return exitUsage
	case errors.As(err, &merr):
		return exitMetadata
	case errors.As(err, &perr):
		return exitPage
	case errors.As(err, &berr):
		return exitBuild
	}
	return 1
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "booksnap", "settings.json")
}

func newRootCmd() *cobra.Command {
	var (
		configPath  string
		libraryPath string
		verbose     bool
		dryRun      bool
		keepPages   bool
	)

	cmd := &cobra.Command{
		Use:   "booksnap <url>...",
		Short: "Download books from online libraries as PDF",
		Long: `booksnap downloads books from supported online libraries
(www.prlib.ru, elib.shpl.ru) page by page and assembles them into PDF
files. Interrupted downloads resume where they stopped.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := settings.ApplyEnv(); err != nil {
				return err
			}
			if libraryPath != "" {
				settings.LibraryPath = libraryPath
			}
			if cmd.Flags().Changed("keep-pages") {
				settings.KeepPageImages = keepPages
			}

			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

			lib, err := library.Build(
				library.WithSettings(settings),
				library.WithLogger(log),
			)
			if err != nil {
				return err
			}
			defer lib.Close()

			if dryRun {
				for _, url := range args {
					id, err := lib.Resolve(url)
					if err != nil {
						return fmt.Errorf("%s: %w", url, err)
					}
					fmt.Printf("%s -> %s\n", url, id)
				}
				return nil
			}

			lib.Bus().Subscribe(printEvent)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var firstErr error
			for _, url := range args {
				ticket, err := lib.GetBook(url)
				if err != nil {
					fmt.Fprintf(os.Stderr, "error: %s: %v\n", url, err)
					if firstErr == nil {
						firstErr = err
					}
					continue
				}
				path, err := ticket.Result(ctx)
				if err != nil {
					if ctx.Err() != nil {
						fmt.Fprintln(os.Stderr, "interrupted, progress is saved")
						return err
					}
					fmt.Fprintf(os.Stderr, "error: %s: %v\n", url, err)
					if firstErr == nil {
						firstErr = err
					}
					continue
				}
				fmt.Printf("done: %s\n", path)
			}
			return firstErr
		},
	}

	cmd.Flags().StringVar(&configPath, "config", defaultConfigPath(), "path to config file")
	cmd.Flags().StringVar(&libraryPath, "library", "", "library root directory (overrides config)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show debug output")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "resolve URLs without downloading")
	cmd.Flags().BoolVar(&keepPages, "keep-pages", true, "keep staged page images after assembly")

	return cmd
}

func printEvent(ev event.Event) {
	switch e := ev.(type) {
	case event.DataFetched:
		fmt.Printf("%s: %s (%d pages)\n", e.ID, e.Title, e.TotalPages)
	case event.Progress:
		fmt.Printf("%s: page %d of %d\n", e.ID, e.Page+1, e.TotalPages)
	case event.ImagesDownloaded:
		fmt.Printf("%s: all pages downloaded, assembling\n", e.ID)
	case event.ArtifactReady:
		fmt.Printf("%s: saved %s\n", e.ID, e.Path)
	}
}
