package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jakechorley/shiftbook/internal/config"
	"github.com/jakechorley/shiftbook/internal/httpapi"
	"github.com/jakechorley/shiftbook/pkg/clients/gmailclient"
	"github.com/jakechorley/shiftbook/pkg/core/booking"
	"github.com/jakechorley/shiftbook/pkg/core/broadcast"
	"github.com/jakechorley/shiftbook/pkg/core/group"
	"github.com/jakechorley/shiftbook/pkg/core/regular"
	"github.com/jakechorley/shiftbook/pkg/postgres"
	"github.com/jakechorley/shiftbook/pkg/utils"
	"github.com/jakechorley/shiftbook/pkg/utils/logging"
)

// App holds the dependencies shared across commands
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	ctx    context.Context
}

var (
	configPath string
	logsDir    string
	verbose    bool
	noEmail    bool
	app        *App
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "shiftbook",
		Short: "Shiftbook - volunteer shift booking and admission engine",
		Long:  `A server managing volunteer shift signups, auto-approval rules, group bookings and live booking events.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initApp()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if app != nil && app.logger != nil {
				app.logger.Sync()
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (default: shiftbook_config.yaml in cwd or home)")
	rootCmd.PersistentFlags().StringVar(&logsDir, "logs", "logs", "Directory for log files")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging on the console")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(materializeRegularsCmd())
	rootCmd.AddCommand(sweepInvitationsCmd())
	rootCmd.AddCommand(authGmailCmd())
	rootCmd.AddCommand(addShiftCmd())
	rootCmd.AddCommand(deleteShiftCmd())
	rootCmd.AddCommand(addRuleCmd())
	rootCmd.AddCommand(setRuleEnabledCmd())
	rootCmd.AddCommand(addRegularCmd())
	rootCmd.AddCommand(deactivateRegularCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// initApp sets up the logger and loads configuration
func initApp() error {
	var err error
	app = &App{
		ctx: context.Background(),
	}

	app.logger, err = logging.NewLogger(logsDir, verbose)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	if configPath != "" {
		app.cfg, err = config.LoadFromPath(configPath)
	} else {
		app.cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	app.logger.Debug("configuration loaded")

	return nil
}

func openDatabase(ctx context.Context) (*postgres.DB, error) {
	database, err := postgres.NewDB(ctx, app.cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return database, nil
}

func broadcastHub() *broadcast.Hub {
	return broadcast.NewHub(app.cfg.HeartbeatInterval(), app.logger)
}

func bookingService(database *postgres.DB, hub *broadcast.Hub) *booking.Service {
	return booking.NewService(database, hub, app.logger)
}

func regularService(database *postgres.DB, bookings *booking.Service) (*regular.Service, error) {
	regulars, err := regular.NewService(database, bookings, app.cfg.RegularSchedules, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create regular volunteer service: %w", err)
	}
	return regulars, nil
}

// logSender stands in for the Gmail client when email delivery is disabled.
// Invite links are written to the log so they can be handed over manually.
type logSender struct {
	logger *zap.Logger
}

func (s logSender) SendInvite(_ context.Context, email, link string) error {
	s.logger.Info("email delivery disabled, invite link not sent",
		zap.String("email", email),
		zap.String("link", link))
	return nil
}

func newInviteSender(ctx context.Context) (group.InviteSender, error) {
	if noEmail {
		return logSender{logger: app.logger}, nil
	}

	oauthCfg, err := config.LoadOAuthClient()
	if err != nil {
		return nil, fmt.Errorf("failed to load oauth client config: %w", err)
	}
	token, err := utils.LoadToken()
	if err != nil {
		return nil, fmt.Errorf("failed to load gmail token (run authGmail first): %w", err)
	}
	return gmailclient.NewClient(ctx, oauthCfg, token, app.cfg.GmailUserID, app.cfg.GmailSender)
}

func serveCmd() *cobra.Command {
	var (
		sweepInterval       time.Duration
		materializeInterval time.Duration
		materializeHorizon  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the booking engine HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(app.ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			database, err := openDatabase(ctx)
			if err != nil {
				return err
			}
			defer database.Close()

			sender, err := newInviteSender(ctx)
			if err != nil {
				return err
			}

			hub := broadcastHub()
			defer hub.Close()

			bookings := bookingService(database, hub)
			groups := group.NewCoordinator(database, bookings, sender, app.cfg.BaseURL, app.logger)
			regulars, err := regularService(database, bookings)
			if err != nil {
				return err
			}

			handler := httpapi.NewHandler(bookings, groups, hub, app.cfg.InvitationTTL(), app.logger)
			server := &http.Server{
				Addr:              app.cfg.ListenAddr,
				Handler:           handler.Routes(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			go runSweepLoop(ctx, database, sweepInterval)
			go runMaterializeLoop(ctx, regulars, materializeInterval, materializeHorizon)

			errCh := make(chan error, 1)
			go func() {
				app.logger.Info("server listening", zap.String("addr", app.cfg.ListenAddr))
				errCh <- server.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server failed: %w", err)
				}
			case <-ctx.Done():
				app.logger.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					return fmt.Errorf("shutdown failed: %w", err)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&noEmail, "no-email", false, "Log invite links instead of sending email")
	cmd.Flags().DurationVar(&sweepInterval, "sweep-interval", time.Hour, "How often to expire stale invitations")
	cmd.Flags().DurationVar(&materializeInterval, "materialize-interval", 6*time.Hour, "How often to materialize regular volunteer signups")
	cmd.Flags().DurationVar(&materializeHorizon, "materialize-horizon", 14*24*time.Hour, "How far ahead to materialize regular volunteer signups")

	return cmd
}

func runSweepLoop(ctx context.Context, database *postgres.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := database.SweepExpiredInvitations(ctx, time.Now().UTC())
			if err != nil {
				app.logger.Error("invitation sweep failed", zap.Error(err))
				continue
			}
			if count > 0 {
				app.logger.Info("expired stale invitations", zap.Int("count", count))
			}
		}
	}
}

func runMaterializeLoop(ctx context.Context, regulars *regular.Service, interval, horizon time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := regulars.Materialize(ctx, horizon)
			if err != nil {
				app.logger.Error("regular materialization failed", zap.Error(err))
				continue
			}
			if count > 0 {
				app.logger.Info("materialized regular signups", zap.Int("count", count))
			}
		}
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := openDatabase(app.ctx)
			if err != nil {
				return err
			}
			defer database.Close()

			if err := database.RunMigrations(app.ctx); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}

			fmt.Println("Migrations applied.")
			return nil
		},
	}
}

func materializeRegularsCmd() *cobra.Command {
	var horizon time.Duration

	cmd := &cobra.Command{
		Use:   "materializeRegulars",
		Short: "Create held signups for regular volunteers over the horizon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := openDatabase(app.ctx)
			if err != nil {
				return err
			}
			defer database.Close()

			hub := broadcastHub()
			defer hub.Close()

			bookings := bookingService(database, hub)
			regulars, err := regularService(database, bookings)
			if err != nil {
				return err
			}

			count, err := regulars.Materialize(app.ctx, horizon)
			if err != nil {
				return err
			}

			fmt.Printf("Materialized %d regular signups.\n", count)
			return nil
		},
	}

	cmd.Flags().DurationVar(&horizon, "horizon", 14*24*time.Hour, "How far ahead to materialize signups")

	return cmd
}

func sweepInvitationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweepInvitations",
		Short: "Expire invitations whose deadline has passed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := openDatabase(app.ctx)
			if err != nil {
				return err
			}
			defer database.Close()

			count, err := database.SweepExpiredInvitations(app.ctx, time.Now().UTC())
			if err != nil {
				return err
			}

			fmt.Printf("Expired %d invitations.\n", count)
			return nil
		},
	}
}

func authGmailCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "authGmail",
		Short: "Authorize the Gmail account used for invitation emails",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			oauthCfg, err := config.LoadOAuthClient()
			if err != nil {
				return fmt.Errorf("failed to load oauth client config: %w", err)
			}

			oauthConfig, err := utils.GetOAuthConfig(oauthCfg)
			if err != nil {
				return err
			}

			authURL := oauthConfig.AuthCodeURL("state-token")
			fmt.Printf("Open the following link in your browser and authorize access:\n\n%s\n\n", authURL)
			fmt.Print("Paste the authorization code here: ")

			scanner := bufio.NewScanner(os.Stdin)
			if !scanner.Scan() {
				return fmt.Errorf("failed to read authorization code")
			}
			code := strings.TrimSpace(scanner.Text())
			if code == "" {
				return fmt.Errorf("no authorization code provided")
			}

			token, err := oauthConfig.Exchange(app.ctx, code)
			if err != nil {
				return fmt.Errorf("failed to exchange authorization code: %w", err)
			}

			if err := utils.SaveToken(token); err != nil {
				return err
			}

			fmt.Println("Gmail authorization saved.")
			return nil
		},
	}
}
