package collector

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	ldapclient "github.com/isometry/adcollector/internal/ldap"
)

// Config is the fixed configuration of an ObjectProcessor.
type Config struct {
	CollectionMethods    []string      `yaml:"collection_methods" default:"[\"Default\"]"`
	CollectAllProperties bool          `yaml:"collect_all_properties"`
	SkipRegistryLoggedOn bool          `yaml:"skip_registry_logged_on"`
	RealDNSName          string        `yaml:"real_dns_name"`
	Throttle             time.Duration `yaml:"throttle"`
	Jitter               int           `yaml:"jitter"`
	Concurrency          int           `yaml:"concurrency" default:"10"`
	NameCacheSize        int           `yaml:"name_cache_size" default:"4096"`

	Connection ldapclient.ConnectionConfig `yaml:"connection"`
}

// Environment keys read by LoadConfigEnv.
const (
	EnvMethods              = "ADC_METHODS"
	EnvThrottle             = "ADC_THROTTLE"
	EnvJitter               = "ADC_JITTER"
	EnvRealDNSName          = "ADC_REAL_DNS_NAME"
	EnvCollectAllProperties = "ADC_COLLECT_ALL_PROPERTIES"
	EnvSkipRegistryLoggedOn = "ADC_SKIP_REGISTRY_LOGGED_ON"
	EnvConcurrency          = "ADC_CONCURRENCY"
)

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	// Tags are static, so Set cannot fail here.
	_ = defaults.Set(cfg)
	return cfg
}

// Methods parses CollectionMethods.
func (c *Config) Methods() (CollectionMethod, error) {
	return ParseCollectionMethods(c.CollectionMethods)
}

// Validate rejects values the processor cannot run with.
func (c *Config) Validate() error {
	if _, err := c.Methods(); err != nil {
		return err
	}
	if c.Throttle < 0 {
		return fmt.Errorf("throttle cannot be negative, got %s", c.Throttle)
	}
	if c.Jitter < 0 || c.Jitter > 100 {
		return fmt.Errorf("jitter must be between 0 and 100, got %d", c.Jitter)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.NameCacheSize < 0 {
		return fmt.Errorf("name_cache_size cannot be negative, got %d", c.NameCacheSize)
	}
	return nil
}

// LoadConfig reads a YAML configuration file over the defaults. Keys absent
// from the file keep their default values.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadConfigEnv overlays ADC_* settings onto cfg. Values come from the
// process environment, falling back to the given dotenv files.
func LoadConfigEnv(cfg *Config, dotenvFiles ...string) error {
	fileEnv := map[string]string{}
	if len(dotenvFiles) > 0 {
		var err error
		fileEnv, err = godotenv.Read(dotenvFiles...)
		if err != nil {
			return fmt.Errorf("failed to read env file: %w", err)
		}
	}

	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return strings.TrimSpace(v), true
		}
		v, ok := fileEnv[key]
		return strings.TrimSpace(v), ok
	}

	if v, ok := lookup(EnvMethods); ok && v != "" {
		cfg.CollectionMethods = strings.Split(v, ",")
	}
	if v, ok := lookup(EnvRealDNSName); ok {
		cfg.RealDNSName = v
	}
	if v, ok := lookup(EnvThrottle); ok && v != "" {
		d, err := parseThrottle(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvThrottle, err)
		}
		cfg.Throttle = d
	}
	for key, dst := range map[string]*int{EnvJitter: &cfg.Jitter, EnvConcurrency: &cfg.Concurrency} {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
			*dst = n
		}
	}
	for key, dst := range map[string]*bool{EnvCollectAllProperties: &cfg.CollectAllProperties, EnvSkipRegistryLoggedOn: &cfg.SkipRegistryLoggedOn} {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
			*dst = b
		}
	}

	return cfg.Validate()
}

// parseThrottle accepts a Go duration or a bare number of milliseconds.
func parseThrottle(v string) (time.Duration, error) {
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(v)
}
