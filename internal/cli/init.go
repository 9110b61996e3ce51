package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/boorufind/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config directory with example files",
	RunE:  initAction,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func initAction(_ *cobra.Command, _ []string) error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	created := 0

	configPath := filepath.Join(configDir, config.DefaultConfigFile)
	wrote, err := writeIfNotExists(configPath, []byte(exampleConfig), 0o644)
	if err != nil {
		return err
	}
	if wrote {
		created++
	}

	envPath := filepath.Join(configDir, config.DefaultEnvFile)
	wrote, err = writeIfNotExists(envPath, []byte(exampleEnv), 0o600)
	if err != nil {
		return err
	}
	if wrote {
		created++
	}

	if created == 0 {
		fmt.Printf("Config directory %s already initialized.\n", configDir)
	} else {
		fmt.Printf("Initialized %s with %d config files.\n", configDir, created)
	}
	return nil
}

// writeIfNotExists writes data to path if the file does not exist.
// Returns true if the file was created.
func writeIfNotExists(path string, data []byte, perm os.FileMode) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("  exists: %s\n", path)
		return false, nil
	}
	if err := os.WriteFile(path, data, perm); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Printf("  created: %s\n", path)
	return true, nil
}

const exampleConfig = `# boorufind configuration

# Built-in adapters registered with stock settings.
defaults:
  - danbooru
  - rule34
  - konachan
  - yande.re
  - gelbooru

# Extra adapters, or overrides of a default by name.
adapters:
  - kind: danbooru
    name: danbooru
    api_key_env: DANBOORU_API_KEY
    user_env: DANBOORU_USER
    rate_per_second: 2
    burst: 4
  # - kind: feed
  #   name: pixiv-feed
  #   base_url: "https://rsshub.example/pixiv/search/{tags}"
  #   referer: "https://www.pixiv.net/"

# Per-adapter tag rewrites applied before searching.
aliases:
  gelbooru:
    scenery: landscape

search:
  limit: 20

download:
  dir: downloads
  concurrency: 10
  mode: parallel
  keep_partial: false

storage:
  path: .boorufind/boorufind.db

filter:
  blacklist: []
  # - "-comic"
  min_rating: ""
  max_rating: ""

metrics:
  listen: ""
  # listen: "127.0.0.1:9410"
`

const exampleEnv = `# boorufind credentials, loaded before config.yaml.
# Variables already set in the environment win.
DANBOORU_USER=
DANBOORU_API_KEY=
`
