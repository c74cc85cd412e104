package config

import (
	"fmt"
	"os"
	"strings"
)

// Template returns a starter config in format "toml" or "yaml".
func Template(format string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "toml", "":
		return tomlTemplate, nil
	case "yaml", "yml":
		return yamlTemplate, nil
	default:
		return "", fmt.Errorf("unknown config format: %s", format)
	}
}

func WriteTemplate(path, format string, overwrite bool) error {
	template, err := Template(format)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const tomlTemplate = `name = "entslink"
user_config_path = "local/userconfig.toml"

[bus]
kind = "loopback"
device = "/dev/i2c-1"
address = 0x20
transfer_size = 32
length_preamble = false

[peripheral]
receive_buffer = 2048
response_buffer = 2048
queue_depth = 0
storage_root = "local/storage"
boot_count = 1
relay_url = ""
sleep_command = []

[controller]
timeout = "2s"
poll_interval = "2ms"
max_response = 2048

[admin]
enabled = true
addr = ":9300"
cors_origins = ["http://localhost:3000"]
token = ""
`

const yamlTemplate = `name: entslink
user_config_path: local/userconfig.toml
bus:
  kind: loopback
  device: /dev/i2c-1
  address: 0x20
  transfer_size: 32
  length_preamble: false
peripheral:
  receive_buffer: 2048
  response_buffer: 2048
  queue_depth: 0
  storage_root: local/storage
  boot_count: 1
  sleep_command: []
controller:
  timeout: 2s
  poll_interval: 2ms
  max_response: 2048
admin:
  enabled: true
  addr: ":9300"
  cors_origins:
    - http://localhost:3000
  token: ""
`
