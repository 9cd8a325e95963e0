package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/prepmarket-backend/pkg/config"
	"github.com/angelmondragon/prepmarket-backend/pkg/logger"
)

// Mode is the Stripe account mode a key belongs to.
type Mode string

const (
	ModeTest Mode = "test"
	ModeLive Mode = "live"
)

// Every write carries an idempotency key, so SDK-level network retries cannot
// double-charge or double-refund.
const maxNetworkRetries int64 = 2

var (
	errAPIKeyRequired = errors.New("stripe api key is required")
	errSecretInvalid  = errors.New("stripe webhook secret must be a whsec_ signing secret")
)

// Client is the configured processor. Requests go through the SDK's package
// level backend, which NewClient sets up once per process.
type Client struct {
	mode          Mode
	signingSecret string
}

func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ModeTest:
		return ModeTest, nil
	case ModeLive:
		return ModeLive, nil
	default:
		return "", fmt.Errorf("stripe environment must be %q or %q, got %q", ModeTest, ModeLive, raw)
	}
}

// CheckKey rejects secret or restricted keys from the other mode, so a test
// deploy can never move real money.
func (m Mode) CheckKey(key string) error {
	for _, prefix := range []string{"sk_", "rk_"} {
		if strings.HasPrefix(key, prefix+string(m)+"_") {
			return nil
		}
	}
	return fmt.Errorf("stripe %s mode requires an sk_%s_ or rk_%s_ key", m, m, m)
}

func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	mode, err := ParseMode(cfg.Env)
	if err != nil {
		return nil, err
	}
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, errAPIKeyRequired
	}
	if err := mode.CheckKey(key); err != nil {
		return nil, err
	}
	secret := strings.TrimSpace(cfg.Secret)
	if !strings.HasPrefix(secret, "whsec_") {
		return nil, errSecretInvalid
	}

	stripe.Key = key
	stripe.SetAppInfo(&stripe.AppInfo{Name: "prepmarket-backend"})
	stripe.SetBackend(stripe.APIBackend, stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		MaxNetworkRetries: stripe.Int64(maxNetworkRetries),
	}))

	if logg != nil {
		logg.Info(logg.WithField(ctx, "stripe_mode", string(mode)), "stripe client initialized")
	}
	return &Client{mode: mode, signingSecret: secret}, nil
}

func (c *Client) Mode() Mode {
	if c == nil {
		return ""
	}
	return c.mode
}

// SigningSecret returns the webhook signing secret.
func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.signingSecret
}
