// Package config reads paycal settings from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"paycal/internal/apperror"
)

const (
	BackendGoogle = "google"
	BackendICloud = "icloud"
)

type Config struct {
	Port            int           `env:"PORT" envDefault:"3000"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"LOG_FORMAT" envDefault:"json"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	StripePrivateKey    string `env:"STRIPE_PRIVATE_KEY"`
	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`

	CalendarBackend string `env:"CALENDAR_BACKEND" envDefault:"google"`

	GoogleClientEmail        string `env:"GOOGLE_CLIENT_EMAIL"`
	GooglePrivateKey         string `env:"GOOGLE_PRIVATE_KEY"`
	GoogleImpersonateSubject string `env:"GOOGLE_IMPERSONATE_SUBJECT"`
	GoogleTokenFile          string `env:"GOOGLE_TOKEN_FILE"`
	GoogleClientID           string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret       string `env:"GOOGLE_CLIENT_SECRET"`
	GoogleCalendarID         string `env:"GOOGLE_CALENDAR_ID"`
	GoogleSendUpdates        string `env:"GOOGLE_SEND_UPDATES"`

	ICloudUsername     string `env:"ICLOUD_USERNAME"`
	ICloudPassword     string `env:"ICLOUD_APP_SPECIFIC_PASSWORD"`
	ICloudCalendarName string `env:"ICLOUD_CALENDAR_NAME"`
}

// New parses the process environment. Credentials and the webhook secret are
// optional here; their absence is reported when they are first needed.
func New() (Config, error) {
	c, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, err
	}

	c.CalendarBackend = strings.ToLower(strings.TrimSpace(c.CalendarBackend))
	switch c.CalendarBackend {
	case BackendGoogle, BackendICloud:
	default:
		return Config{}, fmt.Errorf("%w: unknown CALENDAR_BACKEND %q", apperror.ErrConfiguration, c.CalendarBackend)
	}

	switch c.GoogleSendUpdates {
	case "", "all", "externalOnly", "none":
	default:
		return Config{}, fmt.Errorf("%w: invalid GOOGLE_SEND_UPDATES %q", apperror.ErrConfiguration, c.GoogleSendUpdates)
	}

	return c, nil
}

// WebhookSecret returns the Stripe signing secret or ErrConfiguration when unset.
func (c Config) WebhookSecret() (string, error) {
	if c.StripeWebhookSecret == "" {
		return "", fmt.Errorf("%w: STRIPE_WEBHOOK_SECRET is missing in environment variables", apperror.ErrConfiguration)
	}
	return c.StripeWebhookSecret, nil
}

// GooglePrivateKeyPEM returns the service account key with escaped newlines
// turned back into real ones. Keys pasted into env files usually carry "\n".
func (c Config) GooglePrivateKeyPEM() []byte {
	return []byte(strings.ReplaceAll(c.GooglePrivateKey, `\n`, "\n"))
}

// HasServiceAccount reports whether both service account fields are set.
func (c Config) HasServiceAccount() bool {
	return c.GoogleClientEmail != "" && c.GooglePrivateKey != ""
}
