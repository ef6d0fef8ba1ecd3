package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pcarvalho/livechat/internal/config"
	"github.com/pcarvalho/livechat/internal/daemon"
	"go.uber.org/fx"
)

func main() {
	configFlag := flag.String("config", "", "path to config.toml (default ~/.livechat/config.toml)")
	flag.Parse()

	cfg, err := resolveConfig(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{Config: cfg}),
	)

	app.Run()
}

// resolveConfig loads the config file if present. A missing default file is
// not an error; the daemon runs with built-in defaults and writes them out
// so the user has something to edit.
func resolveConfig(path string) (*config.Config, error) {
	explicit := path != ""
	if !explicit {
		cfg := config.Default()
		path = filepath.Join(cfg.DataDir, "config.toml")
	}

	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if explicit || !os.IsNotExist(err) {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}

	cfg = config.Default()
	if saveErr := config.Save(path, cfg); saveErr != nil {
		return nil, fmt.Errorf("write default config %s: %w", path, saveErr)
	}
	return cfg, nil
}
