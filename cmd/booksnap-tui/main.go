package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/booksnap/booksnap/internal/config"
	"github.com/booksnap/booksnap/internal/library"
	"github.com/booksnap/booksnap/internal/tui"
)

func main() {
	settings := config.DefaultSettings()
	if err := settings.ApplyEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Engine logs would corrupt the terminal UI.
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	lib, err := library.Build(
		library.WithSettings(settings),
		library.WithLogger(log),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer lib.Close()

	if err := tui.Run(lib); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
