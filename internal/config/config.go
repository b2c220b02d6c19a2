package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// App holds core runtime configuration shared across commands.
type App struct {
	Name     string `env:"APP_NAME" envDefault:"glitch-duel"`
	Env      string `env:"APP_ENV" envDefault:"development"`
	Postgres Postgres
	Redis    Redis
	Relay    Relay
	Game     Game
}

// Postgres captures connection info for the match-history ledger.
type Postgres struct {
	Host     string `env:"PG_HOST" envDefault:"localhost"`
	Port     int    `env:"PG_PORT" envDefault:"5432"`
	User     string `env:"PG_USER"`
	Password string `env:"PG_PASSWORD"`
	Database string `env:"PG_DATABASE" envDefault:"glitchduel"`
	SSLMode  string `env:"PG_SSL_MODE" envDefault:"disable"`
}

// DSN builds a pgx-compatible connection string.
func (p Postgres) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode)
}

// Redis holds pub/sub + presence transport configuration.
type Redis struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
	PoolSize int    `env:"REDIS_POOL_SIZE" envDefault:"10"`
}

// Relay configures the optional WebSocket relay transport.
type Relay struct {
	URL      string        `env:"RELAY_URL"`
	HTTPAddr string        `env:"RELAY_HTTP_ADDR" envDefault:"0.0.0.0:8090"`
	Timeout  time.Duration `env:"RELAY_DIAL_TIMEOUT" envDefault:"5s"`
}

// Game groups gameplay pacing. The 5s question deadline is a protocol
// constant (both peers must agree on it) and lives in the timing package.
type Game struct {
	BonusWindow     time.Duration `env:"BONUS_WINDOW" envDefault:"3s"`
	BonusFlash      time.Duration `env:"BONUS_FLASH" envDefault:"1500ms"`
	AdvanceFast     time.Duration `env:"ADVANCE_FAST" envDefault:"1500ms"`
	AdvanceSlow     time.Duration `env:"ADVANCE_SLOW" envDefault:"3s"`
	ForfeitGrace    time.Duration `env:"FORFEIT_GRACE" envDefault:"2s"`
	DefaultDuration time.Duration `env:"DEFAULT_DURATION" envDefault:"1m"`
}

// Load parses environment variables into App config.
func Load() (*App, error) {
	cfg := &App{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
