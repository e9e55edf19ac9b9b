package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "host":
		return hostTemplate, nil
	case "worker":
		return workerTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
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

const hostTemplate = `name = "host"
max_payload_bytes = 8388608
max_depth = 64
log_level = "info"
log_timestamp = true
worker_path = "extworker"
worker_args = ["-config", "cmd/extworker/config.toml"]
`

const workerTemplate = `name = "worker"
max_payload_bytes = 8388608
max_depth = 64
log_level = "info"
log_timestamp = false
`
