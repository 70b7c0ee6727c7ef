package config

import (
	"fmt"
	"os"

	"github.com/go-yaml/yaml"
)

type Config struct {
	NodeInfo NodeInfo `yaml:"nodeInfo"`
	Server   Server   `yaml:"server"`
	Authz    Authz    `yaml:"authz"`
}

type NodeInfo struct {
	FQDN      string `yaml:"fqdn"`
	Directory string `yaml:"directory"` // identity directory host for handle resolution
}

type Server struct {
	PostgresDsn   string `yaml:"postgresDsn"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDB"`
	MemcachedAddr string `yaml:"memcachedAddr"`
	EnableTrace   bool   `yaml:"enableTrace"`
	TraceEndpoint string `yaml:"traceEndpoint"`
}

type Authz struct {
	Endpoint  string `yaml:"endpoint"`
	Token     string `yaml:"token"`
	Plaintext bool   `yaml:"plaintext"`
}

func Load(path string) (Config, error) {

	file, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer file.Close()

	var config Config
	err = yaml.NewDecoder(file).Decode(&config)
	if err != nil {
		return Config{}, err
	}

	if config.Authz.Endpoint == "" {
		return Config{}, fmt.Errorf("authz.endpoint is required")
	}

	return config, nil
}
