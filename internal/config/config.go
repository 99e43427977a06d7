package config

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. LIVEQUIZ_REDIS_STORE_PREFIX.
const EnvPrefix = "LIVEQUIZ"

// Load config from file into the config struct, config must be a pointer to the config struct.
// Every key can be overridden from the environment. An empty file loads from the environment only.
func Load(file string, config any) error {
	v := viper.New()
	m := make(map[string]any)

	// Register every key so AutomaticEnv can find overrides for keys missing from the file.
	if err := mapstructure.Decode(config, &m); err != nil {
		return fmt.Errorf("mapstructure: %v", err)
	}

	if err := v.MergeConfigMap(m); err != nil {
		return fmt.Errorf("merge config map: %v", err)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.MergeInConfig(); err != nil {
			return fmt.Errorf("read config from file %s: %v", file, err)
		}
	}

	hooks := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(config, hooks); err != nil {
		return fmt.Errorf("unmarshal config: %v", err)
	}

	return nil
}
