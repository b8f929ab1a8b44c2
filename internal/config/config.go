// Package config loads the engine's immutable global configuration and
// produces request-scoped mode slices (§6).
//
// Two layers are loaded once at process startup, never reloaded (§1
// Non-goals: no in-place config reload):
//   - Environment variables (BASIS_*), bound via spf13/viper, optionally
//     preceded by a .env file loaded with joho/godotenv for local runs.
//   - One YAML mode-config file per trading mode, parsed with
//     gopkg.in/yaml.v3, keyed by its `mode` field.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/basisdesk/engine/internal/types"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Env holds the process-startup environment configuration (§6).
type Env struct {
	ExecutionMode  types.ExecutionMode
	DataMode       types.DataMode
	DataDir        string
	ResultsDir     string
	DataStartDate  string
	DataEndDate    string
	VenueCredentials map[string]map[string]string // venue -> field -> value
}

// Global is the immutable, process-wide loaded configuration (§3
// "Lifecycle — Config"). It is built once by Load and never mutated; every
// request works from a deep-copied, override-merged slice (ForRequest).
type Global struct {
	Env   Env
	Modes map[string]types.ModeConfig
}

// Load reads the environment and every *.yaml file in modesDir into an
// immutable Global. It is the only place environment variables and mode
// files are read; callers must not reload it during a run.
func Load(logger *zap.Logger, modesDir string) (*Global, error) {
	_ = godotenv.Load() // best-effort; absence of .env is not an error

	v := viper.New()
	v.SetEnvPrefix("BASIS")
	v.AutomaticEnv()
	v.SetDefault("EXECUTION_MODE", "backtest")
	v.SetDefault("DATA_MODE", "csv")
	v.SetDefault("DATA_DIR", "./data")
	v.SetDefault("RESULTS_DIR", "./results")

	env := Env{
		ExecutionMode:    types.ExecutionMode(v.GetString("EXECUTION_MODE")),
		DataMode:         types.DataMode(v.GetString("DATA_MODE")),
		DataDir:          v.GetString("DATA_DIR"),
		ResultsDir:       v.GetString("RESULTS_DIR"),
		DataStartDate:    v.GetString("DATA_START_DATE"),
		DataEndDate:      v.GetString("DATA_END_DATE"),
		VenueCredentials: parseVenueCredentials(os.Environ()),
	}

	if env.ExecutionMode != types.ModeBacktest && env.ExecutionMode != types.ModeLive {
		return nil, &types.EngineError{
			Code:      types.ErrConfiguration,
			Component: "config",
			Operation: "Load",
			Message:   fmt.Sprintf("invalid BASIS_EXECUTION_MODE %q", env.ExecutionMode),
		}
	}

	modes, err := loadModes(modesDir)
	if err != nil {
		return nil, err
	}

	logger.Info("configuration loaded",
		zap.String("executionMode", string(env.ExecutionMode)),
		zap.String("dataMode", string(env.DataMode)),
		zap.Int("modes", len(modes)),
	)

	return &Global{Env: env, Modes: modes}, nil
}

func loadModes(dir string) (map[string]types.ModeConfig, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &types.EngineError{Code: types.ErrConfiguration, Component: "config", Operation: "loadModes", Message: "reading mode config directory", Err: err}
	}

	modes := make(map[string]types.ModeConfig)
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		ext := filepath.Ext(ent.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, ent.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &types.EngineError{Code: types.ErrConfiguration, Component: "config", Operation: "loadModes", Message: "reading " + path, Err: err}
		}
		var mc types.ModeConfig
		if err := yaml.Unmarshal(data, &mc); err != nil {
			return nil, &types.EngineError{Code: types.ErrConfiguration, Component: "config", Operation: "loadModes", Message: "parsing " + path, Err: err}
		}
		if mc.Mode == "" {
			return nil, &types.EngineError{Code: types.ErrConfiguration, Component: "config", Operation: "loadModes", Message: path + " missing required key `mode`"}
		}
		if err := validateMode(mc); err != nil {
			return nil, err
		}
		modes[mc.Mode] = mc
	}
	return modes, nil
}

func validateMode(mc types.ModeConfig) error {
	if mc.ShareClass != "USDT" && mc.ShareClass != "ETH" {
		return &types.EngineError{Code: types.ErrConfiguration, Component: "config", Operation: "validateMode", Message: fmt.Sprintf("mode %q: share_class must be USDT or ETH, got %q", mc.Mode, mc.ShareClass)}
	}
	if len(mc.DataRequirements) == 0 {
		return &types.EngineError{Code: types.ErrConfiguration, Component: "config", Operation: "validateMode", Message: fmt.Sprintf("mode %q: data_requirements must not be empty", mc.Mode)}
	}
	return nil
}

// parseVenueCredentials extracts BASIS_{ENV}__{VENUE}__{FIELD} variables
// (§6, live only) into a venue -> field -> value map.
func parseVenueCredentials(environ []string) map[string]map[string]string {
	out := make(map[string]map[string]string)
	for _, kv := range environ {
		var key, val string
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				key, val = kv[:i], kv[i+1:]
				break
			}
		}
		parts := splitDoubleUnderscore(key)
		if len(parts) != 3 || len(parts[0]) <= len("BASIS_") || parts[0][:len("BASIS_")] != "BASIS_" {
			continue
		}
		venue, field := parts[1], parts[2]
		if out[venue] == nil {
			out[venue] = make(map[string]string)
		}
		out[venue][field] = val
	}
	return out
}

func splitDoubleUnderscore(s string) []string {
	var parts []string
	start := 0
	for i := 0; i+1 < len(s); i++ {
		if s[i] == '_' && s[i+1] == '_' {
			parts = append(parts, s[start:i])
			start = i + 2
			i++
		}
	}
	parts = append(parts, s[start:])
	return parts
}
