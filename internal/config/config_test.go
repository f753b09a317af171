package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/rentflow/internal/billing"
	"github.com/matthewbaird/rentflow/internal/types"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "rentflow", cfg.Auth.Issuer)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL())
	assert.Equal(t, time.Hour, cfg.EvaluatorInterval())
	assert.True(t, cfg.Evaluator.Enabled)
	assert.Equal(t, int64(65536), cfg.Webhook.MaxBodyBytes)
	assert.Equal(t, 30, cfg.Webhook.SignupDays)
	assert.Equal(t, billing.DefaultLateFeePolicy(), cfg.LateFeePolicy())
	assert.Equal(t, 15*time.Second, cfg.Gateways.PayDunya.Adapter().Timeout)
}

func TestParse_Overrides(t *testing.T) {
	cfg, err := Parse([]byte(`
server: port: 9090
rent: late_fee: {
	fee_type:    "flat"
	flat_amount: 5000
}
evaluator: interval: "15m"
gateways: orange_money: {
	base_url: "https://om.example"
	timeout:  "3s"
}
`))
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "flat", cfg.Rent.LateFee.FeeType)
	assert.Equal(t, int64(5000), cfg.LateFeePolicy().FlatAmount)
	assert.Equal(t, 5, cfg.Rent.LateFee.GracePeriodDays)
	assert.Equal(t, 15*time.Minute, cfg.EvaluatorInterval())

	om := cfg.Gateways.OrangeMoney.Adapter()
	assert.Equal(t, "https://om.example", om.BaseURL)
	assert.Equal(t, 3*time.Second, om.Timeout)
}

func TestParse_TieredLateFee(t *testing.T) {
	cfg, err := Parse([]byte(`
rent: late_fee: {
	fee_type: "tiered"
	tiers: [
		{days_late_min: 6, days_late_max: 15, amount: 5000},
		{days_late_min: 16, amount: 15000},
	]
}
`))
	require.NoError(t, err)
	p := cfg.LateFeePolicy()
	assert.Equal(t, "tiered", p.FeeType)
	assert.Equal(t, []types.LateFeeTier{
		{DaysLateMin: 6, DaysLateMax: 15, Amount: 5000},
		{DaysLateMin: 16, Amount: 15000},
	}, p.Tiers)
	require.NoError(t, billing.ValidatePolicy(p))
	assert.Equal(t, int64(5000), billing.LateFee(10, 100000, p))
	assert.Equal(t, int64(15000), billing.LateFee(40, 100000, p))

	_, err = Parse([]byte(`rent: late_fee: tiers: [{days_late_min: 1, amount: 0}]`))
	assert.Error(t, err)
}

func TestParse_Rejects(t *testing.T) {
	for name, src := range map[string]string{
		"port out of range": `server: port: 70000`,
		"unknown fee type":  `rent: late_fee: fee_type: "weekly"`,
		"negative grace":    `rent: late_fee: grace_period_days: -1`,
		"bad duration":      `auth: token_ttl: "a day"`,
		"unknown field":     `serevr: port: 1`,
		"syntax":            `server: {`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(src))
			assert.Error(t, err)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)

	env := map[string]string{
		"DATABASE_URL":           "postgres://rentflow@localhost/rentflow",
		"PORT":                   "3000",
		"JWT_SECRET":             "jwt",
		"ORANGE_MONEY_SECRET":    "om",
		"PAYDUNYA_SECRET":        "pd",
		"PAYMENT_WEBHOOK_SECRET": "pay",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	require.Error(t, cfg.Validate())
	require.NoError(t, cfg.applyEnv(lookup))

	assert.Equal(t, "postgres://rentflow@localhost/rentflow", cfg.Database.URL)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "om", cfg.Gateways.OrangeMoney.Secret)
	assert.Equal(t, "pay", cfg.Gateways.Signup.Adapter().Secret)
	assert.NoError(t, cfg.Validate())

	env["PORT"] = "eighty"
	assert.Error(t, cfg.applyEnv(lookup))
}
