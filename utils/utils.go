package utils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sithukyaw666/pushdeploy/model"
	"github.com/spf13/viper"
)

const EnvPrefix = "PUSHDEPLOY"

func setDefaults(v *viper.Viper) {
	v.SetDefault("work_root", filepath.Join(os.TempDir(), "pushdeploy"))
	v.SetDefault("metadata_file", "lambda-deploy.json")
	v.SetDefault("dry_run", false)

	v.SetDefault("defaults.bucket", "lambda-deploy-artifacts")
	v.SetDefault("defaults.prefix", "deployments/")
	v.SetDefault("defaults.subtree", "src/python/")
	v.SetDefault("defaults.function_name", "test_function")
	v.SetDefault("defaults.handler", "")

	v.SetDefault("git.transport", "ssh")
	v.SetDefault("git.ssh_key_path", "")
	v.SetDefault("git.username", "")
	v.SetDefault("git.password", "")
	v.SetDefault("git.depth", 0)

	v.SetDefault("package.exclude", []string{})
	v.SetDefault("provision.mode", "auto")

	v.SetDefault("aws.profile", "")
	v.SetDefault("aws.max_attempts", 1)

	v.SetDefault("timeouts.sync", 2*time.Minute)
	v.SetDefault("timeouts.publish", time.Minute)
	v.SetDefault("timeouts.provision", time.Minute)

	v.SetDefault("lock.redis_url", "")
	v.SetDefault("lock.ttl", 10*time.Minute)

	v.SetDefault("metrics.namespace", "pushdeploy")
	v.SetDefault("serve.addr", ":8080")
}

// LoadConfig reads pushdeploy.yaml (or the file at path) and environment
// variables prefixed with PUSHDEPLOY_. A missing config file is fine: every
// key has a default. Overrides win over both, they carry command-line flags.
func LoadConfig(path string, overrides map[string]any) (model.Config, error) {

	config := new(model.Config)
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("pushdeploy")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.pushdeploy")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return *config, fmt.Errorf("fatal error config file: %w", err)
		}
	}

	for key, value := range overrides {
		v.Set(key, value)
	}

	if err := v.Unmarshal(config); err != nil {
		return *config, fmt.Errorf("unable to unmarshal config: %w", err)
	}

	if err := validate(config); err != nil {
		return *config, err
	}
	return *config, nil
}

func validate(config *model.Config) error {
	switch config.Git.Transport {
	case "ssh", "https":
	default:
		return fmt.Errorf("invalid git.transport %q: want ssh or https", config.Git.Transport)
	}
	switch config.Provision.Mode {
	case "auto", "create", "update":
	default:
		return fmt.Errorf("invalid provision.mode %q: want auto, create or update", config.Provision.Mode)
	}
	if config.WorkRoot == "" {
		return errors.New("work_root cannot be empty")
	}
	return nil
}
