package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all stepflow server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	ListenAddr         string `json:"listen_addr"`
	DBPath             string `json:"db_path"`
	WorkflowsDir       string `json:"workflows_dir"`
	WorkDir            string `json:"work_dir"`
	LogLevel           string `json:"log_level"`
	MaxStepInvocations int    `json:"max_step_invocations"`
	Scheduler          bool   `json:"scheduler"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr:   ":4200",
		DBPath:       filepath.Join(stepflowDir(), "stepflow.db"),
		WorkflowsDir: "workflows",
		LogLevel:     "info",
		Scheduler:    true,
	}
}

func stepflowDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".stepflow"
	}
	return filepath.Join(home, ".stepflow")
}

func settingsPath() string {
	return filepath.Join(stepflowDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("STEPFLOW_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("STEPFLOW_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("STEPFLOW_WORKFLOWS_DIR"); v != "" {
		cfg.WorkflowsDir = v
	}
	if v := os.Getenv("STEPFLOW_WORK_DIR"); v != "" {
		cfg.WorkDir = v
	}
	if v := os.Getenv("STEPFLOW_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("STEPFLOW_MAX_STEP_INVOCATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxStepInvocations = n
		}
	}
	if v := os.Getenv("STEPFLOW_SCHEDULER"); v != "" {
		cfg.Scheduler = v == "true" || v == "1"
	}

	return cfg
}
