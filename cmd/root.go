package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/facefilter/internal/store"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Options holds shared configuration for apply, snap, and live commands
type Options struct {
	InputPath     string
	OutputPath    string
	FilterID      string
	CatalogPath   string
	SpritesDir    string
	BorderPath    string
	Mirror        bool
	Detector      string
	CascadePath   string
	NumEngines    int
	MaxFaces      int
	MinConfidence float64
	WorkerTimeout string
	WorkerScript  string
	MaxSpriteSide int
	Interp        string
}

const (
	// dbAnnotation marks how a command uses the history database.
	dbAnnotation = "db"
	dbRequired   = "required"
	dbOptional   = "optional"
)

var (
	// DB is the global database connection shared by subcommands.
	// It is nil when the command runs without history.
	DB *store.Store
	// Log is the structured debug logger; a no-op unless --verbose is set.
	Log = zap.NewNop()
	// dbURL is the connection string
	dbURL   string
	verbose bool
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "facefilter",
	Short:   "Landmark-anchored sprite filters for faces in photos, videos and camera streams",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env is normal; anything else is a broken file.
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load .env: %w", err)
		}

		if verbose {
			l, err := zap.NewDevelopment()
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}
			Log = l
		}

		mode := cmd.Annotations[dbAnnotation]
		if mode == "" {
			return nil
		}

		url := resolveDBURL(dbURL)
		var err error
		// Use the command's context (which will be cancellable) for the connection
		DB, err = store.New(cmd.Context(), url)
		if err != nil {
			if mode == dbRequired {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			fmt.Fprintf(os.Stderr, "⚠️  History disabled, database unavailable: %v\n", err)
			DB = nil
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to send the "Close" command to the DB.
			DB.Close(context.Background())
		}
		_ = Log.Sync()
	},
}

// resolveDBURL prefers the flag, then the POSTGRES_* environment, then the
// local default.
func resolveDBURL(flag string) string {
	if flag != "" {
		return flag
	}
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		name := os.Getenv("POSTGRES_DB")
		port := os.Getenv("POSTGRES_PORT")
		if port == "" {
			port = "5432"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
	}
	// Fallback to local default if no env vars are present
	return "postgres://localhost:5432/facefilter"
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string (default: postgres://localhost:5432/facefilter)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable structured debug logging")
}
