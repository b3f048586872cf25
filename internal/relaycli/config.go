// config.go holds the optional .relay/config.yaml support: loading and
// merging into the env-derived server config.
package relaycli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/contenox/relay/serverapi"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// localConfig holds optional values from .relay/config.yaml. Environment
// variables and flags take precedence over everything in here.
type localConfig struct {
	DatabaseURL           string `yaml:"database_url"`
	SQLitePath            string `yaml:"sqlite_path"`
	Port                  string `yaml:"port"`
	Addr                  string `yaml:"addr"`
	NATSURL               string `yaml:"nats_url"`
	NATSUser              string `yaml:"nats_user"`
	NATSPassword          string `yaml:"nats_password"`
	KVAddr                string `yaml:"kv_addr"`
	KVPassword            string `yaml:"kv_password"`
	Rooms                 string `yaml:"rooms"`
	HistoryBatchCapacity  string `yaml:"history_batch_capacity"`
	HistoryRetentionLimit string `yaml:"history_retention_limit"`
	LogLevel              string `yaml:"log_level"`
}

// loadLocalConfig tries ./.relay/config.yaml then ~/.relay/config.yaml.
// Returns (config, pathToConfigFile, nil). If neither file exists, returns
// (empty, "", nil).
func loadLocalConfig() (localConfig, string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return localConfig{}, "", err
	}
	try := []string{
		filepath.Join(cwd, ".relay", "config.yaml"),
	}
	if home, err := os.UserHomeDir(); err == nil {
		try = append(try, filepath.Join(home, ".relay", "config.yaml"))
	}
	for _, p := range try {
		data, err := os.ReadFile(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return localConfig{}, "", err
		}
		var cfg localConfig
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return localConfig{}, "", fmt.Errorf("%s: %w", p, err)
		}
		return cfg, p, nil
	}
	return localConfig{}, "", nil
}

// mergeLocalConfig fills fields the environment left empty from the config
// file.
func mergeLocalConfig(config *serverapi.Config, local localConfig) {
	if config.DatabaseURL == "" {
		config.DatabaseURL = local.DatabaseURL
	}
	if config.SQLitePath == "" {
		config.SQLitePath = local.SQLitePath
	}
	if config.Port == "" {
		config.Port = local.Port
	}
	if config.Addr == "" {
		config.Addr = local.Addr
	}
	if config.NATSURL == "" {
		config.NATSURL = local.NATSURL
	}
	if config.NATSUser == "" {
		config.NATSUser = local.NATSUser
	}
	if config.NATSPassword == "" {
		config.NATSPassword = local.NATSPassword
	}
	if config.KVAddr == "" {
		config.KVAddr = local.KVAddr
	}
	if config.KVPassword == "" {
		config.KVPassword = local.KVPassword
	}
	if config.Rooms == "" {
		config.Rooms = local.Rooms
	}
	if config.HistoryBatchCapacity == "" {
		config.HistoryBatchCapacity = local.HistoryBatchCapacity
	}
	if config.HistoryRetentionLimit == "" {
		config.HistoryRetentionLimit = local.HistoryRetentionLimit
	}
	if config.LogLevel == "" {
		config.LogLevel = local.LogLevel
	}
}

// resolveConfig builds the effective configuration: environment first, then
// the config file for anything still unset, then persistent flag overrides.
func resolveConfig(cmd *cobra.Command) (*serverapi.Config, error) {
	config := &serverapi.Config{}
	if err := serverapi.LoadConfig(config); err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	local, _, err := loadLocalConfig()
	if err != nil {
		return nil, err
	}
	mergeLocalConfig(config, local)

	flags := cmd.Root().PersistentFlags()
	if flags.Changed("db") {
		config.DatabaseURL, _ = flags.GetString("db")
	}
	if flags.Changed("sqlite") {
		config.SQLitePath, _ = flags.GetString("sqlite")
	}
	return config, nil
}
