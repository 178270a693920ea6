// Package cli implements the tilekit command line: convert between tile
// containers, probe archives, and serve tiles over HTTP.
package cli

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

type app struct {
	verbose bool
	logger  *slog.Logger
}

// New builds the root command.
func New() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "tilekit",
		Short:         "Convert, inspect, and serve map tile archives",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			level := charmlog.InfoLevel
			if a.verbose {
				level = charmlog.DebugLevel
			}
			handler := charmlog.NewWithOptions(os.Stderr, charmlog.Options{
				Level:           level,
				ReportTimestamp: true,
			})
			a.logger = slog.New(handler)
		},
	}
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(a.convertCmd())
	root.AddCommand(a.probeCmd())
	root.AddCommand(a.serveCmd())
	return root
}

// mountName derives a URL-safe mount name from an archive path or URL.
func mountName(arg string) string {
	name := filepath.Base(strings.TrimSuffix(arg, "/"))
	for _, ext := range []string{".versatiles", ".mbtiles", ".tar"} {
		name = strings.TrimSuffix(name, ext)
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '-'
		}
	}, name)
}
