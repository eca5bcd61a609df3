package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/joho/godotenv"

	"github.com/rudderlabs/rudder-go-kit/config"
)

// EnvPrefix is prepended to every environment override, see TransformKey.
const EnvPrefix = "NETSYNC"

var matchAllCap = regexp.MustCompile("([a-z0-9])([A-Z])")

// TransformKey returns the environment variable overriding a config key,
// e.g. NetSync.pollInterval becomes NETSYNC_NET_SYNC_POLL_INTERVAL.
func TransformKey(s string) string {
	snake := matchAllCap.ReplaceAllString(s, "${1}_${2}")
	snake = strings.ReplaceAll(snake, ".", "_")
	return EnvPrefix + "_" + strings.ToUpper(snake)
}

// Load reads the given .env files into the process environment and returns
// a config reading overrides with the NETSYNC prefix.
func Load(envFiles ...string) (*config.Config, error) {
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return nil, fmt.Errorf("loading env files %v: %w", envFiles, err)
		}
	}
	return config.New(config.WithEnvPrefix(EnvPrefix)), nil
}
