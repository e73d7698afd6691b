package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tau/claude-usage/internal/app"
	"github.com/tau/claude-usage/internal/browser"
	"github.com/tau/claude-usage/internal/config"
	"github.com/tau/claude-usage/internal/session"
	"github.com/tau/claude-usage/internal/store"
	"github.com/tau/claude-usage/internal/ui"
)

var (
	version = "dev"
	cfgFile string
	debug   bool
	compact bool
)

var errNotLoggedIn = errors.New(`not logged in, run "claude-usage" and log in first`)

var rootCmd = &cobra.Command{
	Use:          "claude-usage",
	Short:        "Claude.ai plan usage and reset timers in your terminal",
	Version:      version,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default $XDG_CONFIG_HOME/claude-usage/config.yaml)")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "verbose logging, same as CLAUDE_USAGE_DEBUG=1")
	rootCmd.Flags().BoolVar(&compact, "compact", false, "print one line of usage and exit")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, " ✗ %s\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if debug {
		cfg.Debug = true
	}

	logger, closeLog, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("base_url", cfg.BaseURL).
		Bool("compact", compact).
		Msg("starting")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.Store.Path, cfg.Store.Passphrase)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error().Err(err).Msg("close store")
		}
	}()

	if compact {
		creds, err := st.Credentials()
		if err != nil {
			return err
		}
		if !creds.Valid() {
			return errNotLoggedIn
		}
	}

	opts := browser.Options{
		ExecPath:   cfg.Browser.ExecPath,
		ProfileDir: cfg.Browser.ProfileDir,
		UserAgent:  cfg.Browser.UserAgent,
	}
	chrome, err := browser.NewChrome(ctx, cfg.BaseURL, opts, logger)
	if err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	defer chrome.Close()

	loginURL, domain, err := loginTarget(cfg.BaseURL)
	if err != nil {
		return err
	}

	fetcher := browser.NewFetcher(chrome, cfg.FetchTimeout, logger)
	a := app.New(app.Deps{
		Store:     st,
		Fetcher:   fetcher,
		Validator: session.NewValidator(chrome, fetcher, cfg.BaseURL, logger),
		Acquirer:  session.NewAcquirer(session.ChromeSurfaceFactory(cfg.BaseURL, opts, logger), chrome, loginURL, domain, logger),
		Jar:       chrome,
		BaseURL:   cfg.BaseURL,
		Log:       logger,
	})

	if compact {
		return runCompact(ctx, a)
	}

	a.WatchRefreshSignal(ctx)

	p := tea.NewProgram(ui.New(ctx, a, cfg.PollInterval, logger), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}

func runCompact(ctx context.Context, a *app.App) error {
	snap, err := a.FetchUsageData(ctx)
	if err != nil {
		return err
	}
	fmt.Println(snap.Stats())
	return nil
}

// setupLogger writes to the log file; the terminal belongs to the UI.
func setupLogger(cfg *config.Config) (zerolog.Logger, func(), error) {
	level := zerolog.InfoLevel
	if cfg.Debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o700); err != nil {
		return zerolog.Nop(), func() {}, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return zerolog.Nop(), func() {}, fmt.Errorf("open log file: %w", err)
	}

	logger := zerolog.New(f).With().Timestamp().Logger()
	return logger, func() { _ = f.Close() }, nil
}

// loginTarget derives the login page and cookie domain from baseURL.
func loginTarget(baseURL string) (string, string, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return "", "", fmt.Errorf("invalid base_url %q", baseURL)
	}
	return strings.TrimRight(baseURL, "/") + "/login", u.Hostname(), nil
}
