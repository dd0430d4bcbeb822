package common

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

//go:embed config.default.yaml
var defaultConfig []byte

// ConfigPathEnv points at a YAML file merged over the embedded defaults.
const ConfigPathEnv = "CONFIG_PATH"

// ConfigManager loads and holds the process configuration. Components never
// read configuration globally; the loaded struct is threaded into them at
// construction time.
type ConfigManager[T any] struct {
	k      *koanf.Koanf
	config T
}

func NewConfigManager[T any]() (*ConfigManager[T], error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider(defaultConfig), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load default config: %w", err)
	}

	if path := os.Getenv(ConfigPathEnv); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	cm := &ConfigManager[T]{k: k}
	if err := k.UnmarshalWithConf("", &cm.config, koanf.UnmarshalConf{Tag: "key"}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cm, nil
}

// GetConfig returns the loaded configuration.
func (cm *ConfigManager[T]) GetConfig() T {
	return cm.config
}
