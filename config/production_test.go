package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoadProductionConfigDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", testSecret)

	cfg, err := LoadProductionConfig()
	require.NoError(t, err)

	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "mock", cfg.Email.Provider)
	assert.Equal(t, "mock", cfg.Generator.Provider)
	assert.Equal(t, "@every 1m", cfg.Dispatcher.CronSpec)
	assert.Equal(t, 3, cfg.Dispatcher.MaxAttempts)
	assert.Equal(t, 10*time.Minute, cfg.Dispatcher.ClaimLease)
	assert.Equal(t, 0.2, cfg.Schedule.LegitimateFraction)
	assert.Equal(t, "stdout", cfg.Logging.Output)
}

func TestLoadProductionConfigOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", testSecret)
	t.Setenv("DISPATCHER_BATCH_SIZE", "25")
	t.Setenv("DISPATCHER_CLAIM_LEASE", "90s")
	t.Setenv("SCHEDULE_LEGITIMATE_FRACTION", "0.5")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("CACHE_ENABLED", "false")
	t.Setenv("SERVER_PORT", "not-a-number")

	cfg, err := LoadProductionConfig()
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Dispatcher.BatchSize)
	assert.Equal(t, 90*time.Second, cfg.Dispatcher.ClaimLease)
	assert.Equal(t, 0.5, cfg.Schedule.LegitimateFraction)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Security.AllowedOrigins)
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, 8080, cfg.Server.Port, "unparsable values fall back to the default")
}

func TestValidateProductionConfig(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr []string
	}{
		{
			name:    "ShortSecret",
			env:     map[string]string{"JWT_SECRET_KEY": "short"},
			wantErr: []string{"JWT_SECRET_KEY must be at least 32 characters long"},
		},
		{
			name:    "RSAWithoutPublicKey",
			env:     map[string]string{"JWT_USE_RSA_KEYS": "true"},
			wantErr: []string{"JWT_PUBLIC_KEY is required"},
		},
		{
			name: "ProvidersWithoutKeys",
			env: map[string]string{
				"JWT_SECRET_KEY":     testSecret,
				"EMAIL_PROVIDER":     "sendgrid",
				"GENERATOR_PROVIDER": "openai",
			},
			wantErr: []string{"SENDGRID_API_KEY is required", "OPENAI_API_KEY is required"},
		},
		{
			name: "UnknownProvider",
			env: map[string]string{
				"JWT_SECRET_KEY": testSecret,
				"EMAIL_PROVIDER": "smtp",
			},
			wantErr: []string{"EMAIL_PROVIDER must be one of"},
		},
		{
			name: "BadFractionAndLevel",
			env: map[string]string{
				"JWT_SECRET_KEY":               testSecret,
				"SCHEDULE_LEGITIMATE_FRACTION": "1.5",
				"LOG_LEVEL":                    "trace",
			},
			wantErr: []string{"SCHEDULE_LEGITIMATE_FRACTION", "LOG_LEVEL must be one of"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			err := ValidateProductionConfig(loadFromEnv())
			require.Error(t, err)
			for _, msg := range tt.wantErr {
				assert.Contains(t, err.Error(), msg)
			}
		})
	}
}

func TestDatabaseDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5433, User: "u", Password: "p", Name: "n", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=n sslmode=disable TimeZone=UTC", d.DSN())
}
