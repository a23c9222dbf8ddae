package config

import (
	"fmt"
	"os"
	"strings"
)

// Template kinds accepted by Template and WriteTemplate.
const (
	KindClient = "client"
	KindServer = "server"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindClient:
		return clientTemplate, nil
	case KindServer:
		return serverTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

// DefaultPath is where each binary looks for its config file when run from
// the repository root.
func DefaultPath(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindClient:
		return "cmd/echoctl/config.toml", nil
	case KindServer:
		return "cmd/echosrv/config.toml", nil
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

const clientTemplate = `connect_timeout = "5s"
transfer_timeout = "15s"
user_agent = "echoctl/0.0.1"
max_handles = 64
verbose = false

[tls]
ca_file = ""
server_name = ""
insecure_skip_verify = false
`

const serverTemplate = `name = "echosrv"
addr = ":8080"
mode = "default"
max_body_bytes = 1048576
cors_origins = ["http://localhost:3000"]
`
