package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"jardav/internal/address"
	"jardav/internal/config"
	"jardav/internal/filesystem"
	"jardav/internal/server"
	"jardav/pkg/types"
)

// Build information (set by linker flags during build)
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

var (
	verbose bool
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "jardav",
	Short: "jardav - read-only browsing of zip and jar archives",
	Long: `jardav exposes the entries of zip and jar archives as a read-only
filesystem. Entries are named by composite addresses of the form
<archive-location>!<entry-path>, for example file:///libs/x.jar!/a/b.txt.

Archives can be mounted and browsed over WebDAV, a JSON API and a
websocket change-event stream, or inspected directly from the command line.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve mounted archives over WebDAV and the JSON API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var statCmd = &cobra.Command{
	Use:   "stat <address>",
	Short: "Show the kind, size and timestamps of an archive entry",
	Args:  cobra.ExactArgs(1),
	RunE:  runStat,
}

var lsCmd = &cobra.Command{
	Use:   "ls <address>",
	Short: "List the immediate children of an archive directory",
	Example: `  jardav ls 'file:///libs/x.jar!'
  jardav ls 'https://repo.example.com/x.jar!/META-INF'`,
	Args: cobra.ExactArgs(1),
	RunE: runList,
}

var catCmd = &cobra.Command{
	Use:   "cat <address>",
	Short: "Write the decompressed content of an archive entry to stdout",
	Args:  cobra.ExactArgs(1),
	RunE:  runCat,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "jardav %s\n", version)
		if commit != "unknown" {
			fmt.Fprintf(out, "commit: %s\n", commit)
		}
		if date != "unknown" {
			fmt.Fprintf(out, "built: %s\n", date)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	config.RegisterFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(catCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	srv, err := server.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	return srv.Start()
}

// openFS builds a filesystem for one-shot commands. Nothing is cached or
// watched.
func openFS(cmd *cobra.Command, raw string) (context.Context, context.CancelFunc, *filesystem.ArchiveFS, address.Address, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, address.Address{}, err
	}
	addr, err := address.Parse(raw)
	if err != nil {
		return nil, nil, nil, address.Address{}, err
	}
	resolver, err := server.NewResolver(cfg)
	if err != nil {
		return nil, nil, nil, address.Address{}, err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	return ctx, cancel, filesystem.New(resolver, filesystem.WithLogger(logger)), addr, nil
}

func runStat(cmd *cobra.Command, args []string) error {
	ctx, cancel, fs, addr, err := openFS(cmd, args[0])
	if err != nil {
		return err
	}
	defer cancel()

	st, err := fs.Stat(ctx, addr)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "address:\t%s\n", addr)
	fmt.Fprintf(w, "kind:\t%s\n", st.Kind)
	fmt.Fprintf(w, "size:\t%s (%s bytes)\n", humanize.IBytes(uint64(st.Size)), humanize.Comma(st.Size))
	fmt.Fprintf(w, "modified:\t%s\n", st.ModifiedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(w, "created:\t%s\n", st.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	return w.Flush()
}

func runList(cmd *cobra.Command, args []string) error {
	ctx, cancel, fs, addr, err := openFS(cmd, args[0])
	if err != nil {
		return err
	}
	defer cancel()

	entries, err := fs.ReadDirectory(ctx, addr)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	for _, e := range entries {
		if e.Kind == types.KindDirectory {
			fmt.Fprintf(w, "%s/\t-\n", e.Name)
			continue
		}
		st, err := fs.Stat(ctx, addr.Join(e.Name))
		if err != nil {
			logger.Debug("Failed to stat entry", zap.String("name", e.Name), zap.Error(err))
			fmt.Fprintf(w, "%s\t?\n", e.Name)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\n", e.Name, humanize.IBytes(uint64(st.Size)))
	}
	return w.Flush()
}

func runCat(cmd *cobra.Command, args []string) error {
	ctx, cancel, fs, addr, err := openFS(cmd, args[0])
	if err != nil {
		return err
	}
	defer cancel()

	data, err := fs.ReadFile(ctx, addr)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
