package cli

import (
	"errors"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"stockfolio/internal/config"
	"stockfolio/internal/logging"
	"stockfolio/internal/marketdata"
	"stockfolio/internal/notify"
	"stockfolio/internal/portfolio"
	"stockfolio/internal/reconcile"
	"stockfolio/internal/store"
	"stockfolio/internal/ticker"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2025-06-01"
)

// App holds the application dependencies.
type App struct {
	Config     *config.Config
	Logger     zerolog.Logger
	Store      store.Store
	Source     *marketdata.Client
	Notifier   notify.Notifier
	Tickers    *ticker.Aggregator
	Assembler  *portfolio.Assembler
	Reconciler *reconcile.Reconciler
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	dataStore, err := store.NewSQLiteStore(cfg.Database.Path, cfg.Database.UndoWindow)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to initialize store, portfolio commands unavailable")
	} else {
		app.Store = dataStore
		logger.Debug().Str("path", cfg.Database.Path).Msg("SQLite store initialized")
	}

	app.Source = marketdata.NewClient(marketdata.ClientConfig{
		BaseURL:      cfg.MarketData.BaseURL,
		APIKey:       cfg.MarketData.APIKey,
		QuoteTTL:     cfg.MarketData.QuoteTTL,
		ChartTTL:     cfg.MarketData.ChartTTL,
		RateLimit:    cfg.MarketData.RateLimit,
		Burst:        cfg.MarketData.Burst,
		FetchWorkers: cfg.MarketData.FetchWorkers,
		Timeout:      cfg.MarketData.Timeout,
	}, logger)

	if cfg.Notifications.Enabled {
		app.Notifier = notify.NewMultiNotifier(logger,
			notify.NewTerminalChannel(true),
			notify.NewWebhookChannel(cfg.Notifications.Webhook.URL, cfg.Notifications.Webhook.Enabled),
		)
	} else {
		app.Notifier = notify.NopNotifier{}
	}

	app.Tickers = ticker.NewAggregator(app.Source, app.Notifier, cfg.Notifications.BigMoverThreshold, logger)
	if app.Store != nil {
		app.Assembler = portfolio.NewAssembler(app.Store, app.Tickers, logger)
		app.Reconciler = reconcile.NewReconciler(app.Store, app.Assembler, logger)
	}

	rootCmd := &cobra.Command{
		Use:   "stockfolio",
		Short: "Stockfolio - portfolio tracking CLI",
		Long: `Stockfolio tracks your stock, option, and crypto holdings and joins them
with live market data to show cost basis, current value, and gain/loss.

Use 'stockfolio help <command>' for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/stockfolio)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	addCoreCommands(rootCmd, app)
	addPortfolioCommands(rootCmd, app)
	addHoldingCommands(rootCmd, app)
	addPositionCommands(rootCmd, app)
	addWatchlistCommands(rootCmd, app)
	addQuoteCommands(rootCmd, app)
	addWatchCommands(rootCmd, app)
	addExportCommands(rootCmd, app)

	return rootCmd
}

// addCoreCommands adds core utility commands.
func addCoreCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("Stockfolio v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and manage application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			return output.JSON(app.Config)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": config.DefaultConfigDir()})
			} else {
				output.Println(config.DefaultConfigDir())
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				output.JSON(map[string]bool{"valid": true})
			} else {
				output.Success("Configuration is valid")
			}
			return nil
		},
	})

	return cmd
}

var errStoreUnavailable = errors.New("local store unavailable; check database path in config")

// requireStore returns an error message when the store failed to open.
func requireStore(app *App) error {
	if app.Store == nil {
		return errStoreUnavailable
	}
	return nil
}
