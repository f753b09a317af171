// Package config loads rentflow's configuration: an optional CUE file
// checked against the embedded #Config schema, then environment overrides.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/joho/godotenv"

	"github.com/matthewbaird/rentflow/internal/billing"
	"github.com/matthewbaird/rentflow/internal/gateway"
	"github.com/matthewbaird/rentflow/internal/types"
)

//go:embed schema.cue
var schemaSource string

type Config struct {
	Server    Server    `json:"server"`
	Database  Database  `json:"database"`
	Auth      Auth      `json:"auth"`
	Rent      Rent      `json:"rent"`
	Evaluator Evaluator `json:"evaluator"`
	Webhook   Webhook   `json:"webhook"`
	Gateways  Gateways  `json:"gateways"`
}

type Server struct {
	Port        int      `json:"port"`
	CORSOrigins []string `json:"cors_origins"`
	Shutdown    string   `json:"shutdown"`
}

type Database struct {
	URL string `json:"url"`
}

type Auth struct {
	JWTSecret string `json:"jwt_secret"`
	Issuer    string `json:"issuer"`
	TokenTTL  string `json:"token_ttl"`
}

type LateFee struct {
	GracePeriodDays int                 `json:"grace_period_days"`
	FeeType         string              `json:"fee_type"`
	FlatAmount      int64               `json:"flat_amount"`
	Percent         float64             `json:"percent"`
	PerDayAmount    int64               `json:"per_day_amount"`
	MaxFee          int64               `json:"max_fee"`
	Tiers           []types.LateFeeTier `json:"tiers"`
}

type Rent struct {
	LateFee                 LateFee `json:"late_fee"`
	AgencyFeeMonths         float64 `json:"agency_fee_months"`
	UpcomingWindowDays      int     `json:"upcoming_window_days"`
	SubscriptionWarningDays int     `json:"subscription_warning_days"`
}

type Evaluator struct {
	Enabled  bool   `json:"enabled"`
	Interval string `json:"interval"`
}

type Webhook struct {
	MaxBodyBytes    int64 `json:"max_body_bytes"`
	SignupDays      int   `json:"signup_days"`
	DefaultPlanDays int   `json:"default_plan_days"`
	SignupAmount    int64 `json:"signup_amount"`
}

type Gateway struct {
	Secret    string `json:"secret"`
	APIKey    string `json:"api_key"`
	APIToken  string `json:"api_token"`
	BaseURL   string `json:"base_url"`
	NotifyURL string `json:"notify_url"`
	ReturnURL string `json:"return_url"`
	CancelURL string `json:"cancel_url"`
	Timeout   string `json:"timeout"`
}

type Gateways struct {
	OrangeMoney Gateway `json:"orange_money"`
	PayDunya    Gateway `json:"paydunya"`
	Signup      Gateway `json:"signup"`
}

// Load reads .env (when present), the optional CUE file at path, and the
// environment. An empty path yields the schema defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	var src []byte
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		src = b
	}
	cfg, err := Parse(src)
	if err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse unifies src with #Config and decodes the concrete result.
func Parse(src []byte) (*Config, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compiling config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	file := ctx.CompileBytes(src, cue.Filename("config.cue"))
	if err := file.Err(); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	val := def.Unify(file)
	if err := val.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	var cfg Config
	if err := val.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"DATABASE_URL":              &c.Database.URL,
		"JWT_SECRET":                &c.Auth.JWTSecret,
		"ORANGE_MONEY_SECRET":       &c.Gateways.OrangeMoney.Secret,
		"ORANGE_MONEY_API_KEY":      &c.Gateways.OrangeMoney.APIKey,
		"PAYDUNYA_SECRET":           &c.Gateways.PayDunya.Secret,
		"PAYDUNYA_MASTER_KEY":       &c.Gateways.PayDunya.APIKey,
		"PAYDUNYA_TOKEN":            &c.Gateways.PayDunya.APIToken,
		"PAYMENT_WEBHOOK_SECRET":    &c.Gateways.Signup.Secret,
		"PAYMENT_API_KEY":           &c.Gateways.Signup.APIKey,
		"PAYMENT_SITE_ID":           &c.Gateways.Signup.APIToken,
		"RENTFLOW_EVALUATOR_PERIOD": &c.Evaluator.Interval,
	}
	for name, dst := range str {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("invalid PORT %q", v)
		}
		c.Server.Port = port
	}
	return nil
}

// Validate checks what the schema cannot: durations parse and the secrets
// the server depends on are set.
func (c *Config) Validate() error {
	var errs []error
	for name, d := range map[string]string{
		"server.shutdown":    c.Server.Shutdown,
		"auth.token_ttl":     c.Auth.TokenTTL,
		"evaluator.interval": c.Evaluator.Interval,
	} {
		if v, err := time.ParseDuration(d); err != nil || v <= 0 {
			errs = append(errs, fmt.Errorf("%s: invalid duration %q", name, d))
		}
	}
	if err := billing.ValidatePolicy(c.LateFeePolicy()); err != nil {
		errs = append(errs, fmt.Errorf("rent.late_fee: %w", err))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret (JWT_SECRET) is required"))
	}
	for name, g := range map[string]Gateway{
		"orange_money": c.Gateways.OrangeMoney,
		"paydunya":     c.Gateways.PayDunya,
		"signup":       c.Gateways.Signup,
	} {
		if g.Secret == "" {
			errs = append(errs, fmt.Errorf("gateways.%s.secret is required", name))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) ShutdownTimeout() time.Duration {
	return mustDuration(c.Server.Shutdown, 10*time.Second)
}

func (c *Config) TokenTTL() time.Duration {
	return mustDuration(c.Auth.TokenTTL, 24*time.Hour)
}

func (c *Config) EvaluatorInterval() time.Duration {
	return mustDuration(c.Evaluator.Interval, time.Hour)
}

// LateFeePolicy converts the configured policy.
func (c *Config) LateFeePolicy() types.LateFeePolicy {
	lf := c.Rent.LateFee
	p := types.LateFeePolicy{
		GracePeriodDays: lf.GracePeriodDays,
		FeeType:         lf.FeeType,
		FlatAmount:      lf.FlatAmount,
		Percent:         lf.Percent,
		PerDayAmount:    lf.PerDayAmount,
		MaxFee:          lf.MaxFee,
	}
	if len(lf.Tiers) > 0 {
		p.Tiers = append([]types.LateFeeTier(nil), lf.Tiers...)
	}
	return p
}

// Adapter returns the gateway client configuration.
func (g Gateway) Adapter() gateway.Config {
	return gateway.Config{
		Secret:    g.Secret,
		APIKey:    g.APIKey,
		APIToken:  g.APIToken,
		BaseURL:   g.BaseURL,
		NotifyURL: g.NotifyURL,
		ReturnURL: g.ReturnURL,
		CancelURL: g.CancelURL,
		Timeout:   mustDuration(g.Timeout, 15*time.Second),
	}
}

func mustDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
