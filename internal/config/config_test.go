package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("DB_DRIVER", "sqlite")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 3, cfg.Billing.CheckoutRetries)
	assert.Equal(t, 30*time.Second, cfg.Email.Timeout)
	assert.Contains(t, cfg.Database.DSN(), "billing.db")
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "Postgres")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_PASSWORD", "pw")
	t.Setenv("SMTP_TIMEOUT", "5")
	t.Setenv("SMTP_USE_SSL", "false")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "host=db port=5432 user=postgres password=pw dbname=billing sslmode=disable", cfg.Database.DSN())
	assert.Equal(t, 5*time.Second, cfg.Email.Timeout)
	assert.False(t, cfg.Email.UseSSL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Environment: "production",
			Database:    DatabaseConfig{Driver: "postgres", Password: "pw"},
			JWT:         JWTConfig{SecretKey: "s3cret"},
			Billing:     BillingConfig{CheckoutRetries: 3},
		}
	}

	assert.NoError(t, base().Validate())

	cfg := base()
	cfg.JWT.SecretKey = defaultJWTSecret
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Database.Password = ""
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Database.Driver = "mysql"
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Billing.CheckoutRetries = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Email = EmailConfig{SMTPHost: "smtp.example.com", SMTPUsername: "me"}
	assert.Error(t, cfg.Validate())
}
