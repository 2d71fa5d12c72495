package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/subdigest/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config directory with example files",
	RunE:  initAction,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func initAction(cmd *cobra.Command, _ []string) error {
	w := cmd.OutOrStdout()
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	created := 0

	configPath := filepath.Join(configDir, config.DefaultConfigFile)
	wrote, err := writeIfNotExists(w, configPath, []byte(exampleConfig), 0o644)
	if err != nil {
		return err
	}
	if wrote {
		created++
	}

	envPath := filepath.Join(configDir, ".env")
	wrote, err = writeIfNotExists(w, envPath, []byte(exampleEnv), 0o600)
	if err != nil {
		return err
	}
	if wrote {
		created++
	}

	if created == 0 {
		fmt.Fprintf(w, "Config directory %s already initialized.\n", configDir)
	} else {
		fmt.Fprintf(w, "Initialized %s with %d config files.\n", configDir, created)
	}
	return nil
}

// writeIfNotExists writes data to path if the file does not exist.
// Returns true if the file was created.
func writeIfNotExists(w io.Writer, path string, data []byte, perm os.FileMode) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(w, "  exists: %s\n", path)
		return false, nil
	}
	if err := os.WriteFile(path, data, perm); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(w, "  created: %s\n", path)
	return true, nil
}

const exampleConfig = `# subdigest configuration

server:
  listen: ":8080"
  read_timeout: 15s
  write_timeout: 60s

storage:
  path: .subdigest/subdigest.db
  retain_days: 90

fetch:
  base_url: https://www.reddit.com
  mirror_url: https://old.reddit.com
  timeout: 15s
  min_delay: 500ms
  max_delay: 2s
  requests_per_second: 1
  user_agents: []
  # - "Mozilla/5.0 (X11; Linux x86_64) ..."

schedule:
  timezone: "UTC"
  send_time: "10:00"
  tick: "@every 1m"

notify:
  mode: log # log or smtp
  from: "subdigest <digest@example.com>"
  redact: []
  smtp:
    host: smtp.example.com
    port: 587
    username: digest@example.com
    password_env: SUBDIGEST_SMTP_PASSWORD
    tls: opportunistic # opportunistic, mandatory or none
    send_interval: 2s

session:
  ttl: 720h
  cookie_name: subdigest_session
  secure: false
`

const exampleEnv = `# Secrets for subdigest, loaded at startup.
SUBDIGEST_SMTP_PASSWORD=
LOG_LEVEL=info
`
