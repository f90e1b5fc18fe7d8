package e2e

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// RELAY_ADDR points at a running relay instance; the suite is skipped
	// when it is not set.
	RelayAddr string `envconfig:"RELAY_ADDR"`
	// E2E_DEBUG_JSON allows dumping full request/response bodies as JSON
	DebugJSON bool `envconfig:"E2E_DEBUG_JSON" default:"false"`
	// E2E_USER_ID is the identity the suite registers queues under
	UserID int64 `envconfig:"E2E_USER_ID" default:"1"`
	// E2E_SENDER_ID is the peer identity used on the notify side
	SenderID int64 `envconfig:"E2E_SENDER_ID" default:"2"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
