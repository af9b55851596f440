package e2e

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// E2E_HTTP_URL is the base URL of a running messaging server; the suites skip without it
	HTTPURL    string `envconfig:"E2E_HTTP_URL"`
	HealthAddr string `envconfig:"E2E_HEALTH_ADDR" default:"localhost:9090"`
	// E2E_JWT_SECRET must match the server's JWT_SECRET so the suite can mint tokens
	JWTSecret string `envconfig:"E2E_JWT_SECRET"`
	// E2E_DEBUG_JSON dumps every REST body and WebSocket frame
	DebugJSON bool `envconfig:"E2E_DEBUG_JSON" default:"false"`
	// E2E_COLOURS enables colorized output for better log readability
	Colours bool `envconfig:"E2E_COLOURS" default:"true"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
