package cli

import (
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.step.sm/tpmobject/tpm/debug"
)

// EnvPrefix is the prefix of the environment variables read by tpm2obj.
const EnvPrefix = "tpm2obj"

// Config holds the settings shared by all commands.
type Config struct {
	Device   string `mapstructure:"device"`
	Tap      string `mapstructure:"tap"`
	LogLevel string `mapstructure:"log-level"`
	Output   string `mapstructure:"output"`
}

// LoadConfig reads the configuration of cmd. Flags take precedence over
// environment variables, which take precedence over the config file.
func LoadConfig(cmd *cobra.Command) (*Config, error) {
	v := viper.New()
	v.SetDefault("log-level", "warn")
	v.SetDefault("output", "text")

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "error reading config file %s", path)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, errors.Wrap(err, "error binding flags")
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "error parsing config")
	}

	switch cfg.Output {
	case "text", "json":
	default:
		return nil, errors.Errorf("unsupported output format %q", cfg.Output)
	}
	return cfg, nil
}

func tapFormat(path string) debug.Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pcap":
		return debug.FormatPcap
	case ".pcapng":
		return debug.FormatPcapng
	case ".bin":
		return debug.FormatBinary
	default:
		return debug.FormatText
	}
}
