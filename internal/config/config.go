package config

import (
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Config struct {
	Identity struct {
		URL     string `yaml:"url"`
		AnonKey string `yaml:"anonKey"`
	} `yaml:"identity"`
	API struct {
		BaseURL        string `yaml:"baseURL"`
		Key            string `yaml:"key"`
		TimeoutSeconds int    `yaml:"timeoutSeconds"`
	} `yaml:"api"`
	Payment struct {
		PublicKey string `yaml:"publicKey"`
	} `yaml:"payment"`
	Local struct {
		Path string `yaml:"path"`
	} `yaml:"local"`
	Avatars struct {
		Endpoint        string `yaml:"endpoint"`
		Region          string `yaml:"region"`
		Bucket          string `yaml:"bucket"`
		AccessKeyID     string `yaml:"accessKeyID"`
		SecretAccessKey string `yaml:"secretAccessKey"`
		PublicBaseURL   string `yaml:"publicBaseURL"`
	} `yaml:"avatars"`
}

// LoadConfig loads the configuration from file and environment variables.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		log.Warnf("could not read config file: %v, using defaults and environment variables", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.API.TimeoutSeconds == 0 {
		cfg.API.TimeoutSeconds = 30
	}

	if cfg.Local.Path == "" {
		cfg.Local.Path = "floralens.db"
		log.Info("local store path not specified, using default floralens.db")
	}

	return &cfg, nil
}
