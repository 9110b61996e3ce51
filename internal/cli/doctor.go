package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/boorufind/internal/config"
	"github.com/ppiankov/boorufind/internal/finder"
)

var doctorTimeout time.Duration

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check config, storage and adapter reachability",
	RunE:  doctorAction,
}

func init() {
	doctorCmd.Flags().DurationVar(&doctorTimeout, "timeout", 15*time.Second, "per-adapter probe timeout")
	rootCmd.AddCommand(doctorCmd)
}

func doctorAction(cmd *cobra.Command, _ []string) error {
	ok := true

	// Config dir
	if info, err := os.Stat(configDir); err != nil || !info.IsDir() {
		printCheck(false, "config directory %s", configDir)
		ok = false
	} else {
		printCheck(true, "config directory %s", configDir)
	}

	// Config file
	cfg, err := config.Load(configDir)
	if err != nil {
		printCheck(false, "config.yaml: %v", err)
		return fmt.Errorf("some checks failed")
	}
	printCheck(true, "config.yaml (%d defaults, %d adapters)", len(cfg.Defaults), len(cfg.Adapters))

	for _, ac := range cfg.Adapters {
		if ac.APIKeyEnv != "" && ac.APIKey == "" {
			printInfo("%s: %s is not set, requests are anonymous", adapterName(ac), ac.APIKeyEnv)
		}
	}

	a, err := openApp()
	if err != nil {
		printCheck(false, "setup: %v", err)
		return fmt.Errorf("some checks failed")
	}
	defer func() { _ = a.Close() }()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	// Database
	if err := a.store.Ping(ctx); err != nil {
		printCheck(false, "database: %v", err)
		ok = false
	} else {
		printCheck(true, "database %s", cfg.Storage.Path)
	}

	// Adapters
	for _, name := range a.finder.Names() {
		pctx, cancel := context.WithTimeout(ctx, doctorTimeout)
		start := time.Now()
		posts, err := a.finder.SearchPosts(pctx, nil, finder.Query{Client: name, Limit: 1, Page: 1})
		cancel()
		if err != nil {
			printCheck(false, "adapter %s: %v", name, err)
			ok = false
			continue
		}
		printCheck(true, "adapter %s (%d posts, %s)", name, len(posts), time.Since(start).Round(time.Millisecond))
	}

	if !ok {
		return fmt.Errorf("some checks failed")
	}
	fmt.Println("\nAll checks passed.")
	return nil
}

func adapterName(ac config.AdapterConfig) string {
	if ac.Name != "" {
		return ac.Name
	}
	return ac.Kind
}

func printCheck(pass bool, format string, args ...any) {
	mark := "FAIL"
	if pass {
		mark = " OK "
	}
	fmt.Printf("[%s] %s\n", mark, fmt.Sprintf(format, args...))
}

func printInfo(format string, args ...any) {
	fmt.Printf("[INFO] %s\n", fmt.Sprintf(format, args...))
}
