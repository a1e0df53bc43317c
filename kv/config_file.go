package kv

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// fileConfig is the YAML-shaped subset of Config: TLS credentials and
// gRPC dial options are Go values (grpc.DialOption, *credentials.Trans-
// portCredentials) with no sane textual encoding, so they are configured
// in code, not in the file.
type fileConfig struct {
	Hosts         []string `yaml:"hosts"`
	Namespace     string   `yaml:"namespace"`
	DialTimeout   string   `yaml:"dial_timeout"`
	Auth          struct {
		Username string `yaml:"username"`
		Password string `yaml:"password"`
	} `yaml:"auth"`
}

// LoadConfigFile reads a Config from a YAML file in the teacher's
// load-then-env-override idiom (internal/config.LoadConfig +
// applyEnvOverrides), for CLI/ops tooling such as cmd/kvcoord-probe.
// KVCOORD_HOSTS, KVCOORD_USERNAME, and KVCOORD_PASSWORD, if set, take
// precedence over the file.
func LoadConfigFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()

	var fc fileConfig
	if err := yaml.NewDecoder(f).Decode(&fc); err != nil {
		return Config{}, err
	}

	cfg := Config{
		Hosts:     fc.Hosts,
		Namespace: fc.Namespace,
		Auth:      Auth{Username: fc.Auth.Username, Password: fc.Auth.Password},
	}
	if fc.DialTimeout != "" {
		if d, err := time.ParseDuration(fc.DialTimeout); err == nil {
			cfg.DialTimeout = d
		}
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("KVCOORD_HOSTS"); v != "" {
		c.Hosts = strings.Split(v, ",")
	}
	if v := os.Getenv("KVCOORD_USERNAME"); v != "" {
		c.Auth.Username = v
	}
	if v := os.Getenv("KVCOORD_PASSWORD"); v != "" {
		c.Auth.Password = v
	}
	if v := os.Getenv("KVCOORD_DIAL_TIMEOUT_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.DialTimeout = time.Duration(n) * time.Second
		}
	}
}
