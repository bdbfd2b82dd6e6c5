package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/stripe/stripe-go/v74"
	"github.com/urfave/cli/v2"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"paycal/internal/attendee"
	"paycal/internal/config"
	"paycal/internal/enroll"
	"paycal/internal/google"
	"paycal/internal/icloud"
	"paycal/internal/logger"
	"paycal/internal/models"
	"paycal/internal/server"
)

const defaultTokenFile = "token.json"

func main() {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "paycal",
		Usage: "Add Stripe checkout purchasers to calendar events.",
		Commands: []*cli.Command{
			serveCommand(),
			addAttendeeCommand(),
			authCommand(),
			calendarsCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.New()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, logger.New(os.Stderr, logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat}), nil
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the Stripe webhook server.",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "dry-run", Usage: "Log attendee updates without making changes."},
		},
		Action: func(c *cli.Context) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			if c.Bool("dry-run") {
				log.Info("Performing a dry run. No calendar changes will be made.")
			}
			if _, err := cfg.WebhookSecret(); err != nil {
				log.Error("Webhook deliveries will be rejected until the secret is configured", "error", err)
			}
			if cfg.StripePrivateKey != "" {
				stripe.Key = cfg.StripePrivateKey
			}

			updater := attendee.NewUpdater(log, attendee.NewLazyBackend(backendBuilder(cfg, log)))
			enroller := enroll.NewEnroller(log, updater, c.Bool("dry-run"))
			handler := server.NewWebhookHandler(log, cfg.WebhookSecret, enroller)

			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", cfg.Port),
				Handler:           server.NewEngine(log, handler),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				log.Info("Webhook server started", "port", cfg.Port, "backend", cfg.CalendarBackend)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http server: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				log.Info("Shutting down webhook server")

				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
				defer cancel()

				if err := srv.Shutdown(shutdownCtx); err != nil {
					log.Error("Server shutdown error", "error", err)
				}
				if err := enroller.Shutdown(shutdownCtx); err != nil {
					log.Warn("Attendee updates still running at shutdown", "error", err)
				}
				return nil
			})

			return g.Wait()
		},
	}
}

func addAttendeeCommand() *cli.Command {
	return &cli.Command{
		Name:  "add-attendee",
		Usage: "Add one attendee to a calendar event (replay a missed delivery).",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "event-id", Required: true, Usage: "Calendar event id."},
			&cli.StringFlag{Name: "email", Required: true, Usage: "Attendee email."},
			&cli.BoolFlag{Name: "dry-run", Usage: "Log what would be added without making changes."},
		},
		Action: func(c *cli.Context) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}

			updater := attendee.NewUpdater(log, attendee.NewLazyBackend(backendBuilder(cfg, log)))
			enroller := enroll.NewEnroller(log, updater, c.Bool("dry-run"))

			event, err := enroller.Enroll(c.Context, models.CheckoutCompleted{
				CalendarEventID: c.String("event-id"),
				Email:           c.String("email"),
			})
			if err != nil {
				return fmt.Errorf("failed to add attendee: %w", err)
			}
			if event != nil {
				log.Info("Attendee added", "eventID", event.ID, "summary", event.Summary, "attendees", len(event.Attendees))
			}
			return nil
		},
	}
}

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authenticate with a Google account and save an OAuth token for GOOGLE_TOKEN_FILE.",
		Action: func(c *cli.Context) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			log.Info("Starting Google authentication flow.")

			oauthConfig, err := google.GetOAuthConfigForAuthFlow(cfg.GoogleClientID, cfg.GoogleClientSecret)
			if err != nil {
				return fmt.Errorf("failed to get google oauth config: %w", err)
			}

			authURL := oauthConfig.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
			fmt.Printf("Go to the following link in your browser then type the "+
				"authorization code: \n%v\n", authURL)

			fmt.Print("Enter Authorization Code: ")
			reader := bufio.NewReader(os.Stdin)
			authCode, _ := reader.ReadString('\n')
			authCode = strings.TrimSpace(authCode)

			token, err := google.TokenFromWeb(c.Context, oauthConfig, authCode)
			if err != nil {
				return fmt.Errorf("unable to retrieve token from web: %w", err)
			}

			tokenFile := tokenFilePath(cfg)
			if err := google.SaveToken(tokenFile, token); err != nil {
				return fmt.Errorf("failed to save token: %w", err)
			}

			log.Info("Successfully authenticated and saved token.", "file", tokenFile)
			return nil
		},
	}
}

func calendarsCommand() *cli.Command {
	return &cli.Command{
		Name:  "calendars",
		Usage: "List the Google calendar ids visible to the configured credentials.",
		Action: func(c *cli.Context) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.CalendarBackend != config.BackendGoogle {
				return fmt.Errorf("calendars is only available for the google backend")
			}
			// Listing does not depend on a target calendar.
			if cfg.GoogleCalendarID == "" {
				cfg.GoogleCalendarID = "primary"
			}

			client, err := newGoogleClient(c.Context, cfg, log)
			if err != nil {
				return err
			}
			ids, err := client.DiscoverGoogleCalendars(c.Context)
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Println(id)
			}
			return nil
		},
	}
}

// backendBuilder returns the constructor LazyBackend calls on first use.
func backendBuilder(cfg config.Config, log *slog.Logger) attendee.BuildFunc {
	return func(ctx context.Context) (attendee.Backend, error) {
		if cfg.CalendarBackend == config.BackendICloud {
			client, err := icloud.NewClient(ctx, log, cfg.ICloudUsername, cfg.ICloudPassword, cfg.ICloudCalendarName)
			if err != nil {
				return nil, err
			}
			return client, nil
		}

		client, err := newGoogleClient(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// newGoogleClient prefers the service account and falls back to a saved user token.
func newGoogleClient(ctx context.Context, cfg config.Config, log *slog.Logger) (*google.CalendarClient, error) {
	settings := google.Settings{CalendarID: cfg.GoogleCalendarID, SendUpdates: cfg.GoogleSendUpdates}

	if cfg.HasServiceAccount() || cfg.GoogleTokenFile == "" {
		return google.NewServiceAccountClient(ctx, log, google.ServiceAccount{
			Email:      cfg.GoogleClientEmail,
			PrivateKey: cfg.GooglePrivateKeyPEM(),
			Subject:    cfg.GoogleImpersonateSubject,
		}, settings)
	}
	return google.NewTokenFileClient(ctx, log, cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleTokenFile, settings)
}

func tokenFilePath(cfg config.Config) string {
	if cfg.GoogleTokenFile != "" {
		return cfg.GoogleTokenFile
	}
	return defaultTokenFile
}
