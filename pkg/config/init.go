package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// configTemplate is written by InitConfig. %s receives the generated JWT
// secret and the default cache path.
const configTemplate = `# dittopam configuration file
#
# Every value can be overridden with an environment variable:
# DITTOPAM_<SECTION>_<KEY>, e.g. DITTOPAM_LOGGING_LEVEL=DEBUG.

logging:
  level: INFO          # DEBUG, INFO, WARN, ERROR
  format: text         # text or json
  output: stdout       # stdout, stderr or a file path

telemetry:
  enabled: false
  endpoint: localhost:4317
  insecure: true
  sample_rate: 1.0
  profiling:
    enabled: false
    endpoint: http://localhost:4040

metrics:
  enabled: false
  port: 9090

shutdown_timeout: 30s

server:
  socket_path: /var/run/dittopam/pam
  # privileged_socket_path: /var/run/dittopam/private/pam
  client_idle_timeout: 60s
  max_connections: 0
  provider_timeout: 30s

pam:
  verbosity: 1
  # account_expired_message: "Contact the help desk."
  # trusted_users: [root, "0"]
  # public_domains: []
  cert_auth: false
  neg_timeout: 15s
  id_timeout: 5s
  offline_credentials_expiration: 0
  offline_failed_login_attempts: 0
  offline_failed_login_delay: 5m
  filter_users: [root]

domains:
  - name: local
    provider: directory
    cache_credentials: true
    entry_cache_timeout: 90m
  # - name: EXAMPLE.ORG
  #   provider: krb5
  #   use_fully_qualified_names: true
  #   cache_credentials: true
  #   cached_auth_timeout: 5m

store:
  type: badger
  badger:
    path: %s

providers:
  directory:
    type: sqlite
  # krb5:
  #   realm: EXAMPLE.ORG
  #   kdcs: ["kdc.example.org:88"]
  #   timeout: 10s
  #   identities:
  #     - {principal: alice@EXAMPLE.ORG, uid: 1001, gid: 1001}

refresh:
  enabled: true
  schedule: "@every 5m"
  window: 10m

api:
  enabled: false
  address: 127.0.0.1
  port: 8390
  jwt_secret: %s
  token_ttl: 1h
`

// InitConfig writes a sample configuration to the default location and
// returns its path. An existing file is only replaced when force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	return path, InitConfigToPath(path, force)
}

// InitConfigToPath writes a sample configuration to path.
func InitConfigToPath(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("configuration file already exists at %s (use --force to overwrite)", path)
	}

	secret, err := generateSecret()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content := fmt.Sprintf(configTemplate, filepath.Join(filepath.Dir(path), "cache"), secret)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate JWT secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
