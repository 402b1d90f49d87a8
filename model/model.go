package model

import (
	"time"
)

// Config is the runtime configuration of the deployer. It is loaded by
// utils.LoadConfig and is independent from the per-repository metadata file.
type Config struct {
	WorkRoot     string         `mapstructure:"work_root"`
	MetadataFile string         `mapstructure:"metadata_file"`
	Defaults     DefaultsConfig `mapstructure:"defaults"`
	Git          GitConfig      `mapstructure:"git"`
	Package      PackageConfig  `mapstructure:"package"`
	Provision    ProvisionCfg   `mapstructure:"provision"`
	AWS          AWSConfig      `mapstructure:"aws"`
	Timeouts     TimeoutConfig  `mapstructure:"timeouts"`
	Lock         LockConfig     `mapstructure:"lock"`
	Metrics      MetricsConfig  `mapstructure:"metrics"`
	Serve        ServeConfig    `mapstructure:"serve"`
	DryRun       bool           `mapstructure:"dry_run"`
}

// DefaultsConfig holds the deployment settings used when a repository has no
// usable metadata file.
type DefaultsConfig struct {
	Bucket       string `mapstructure:"bucket"`
	Prefix       string `mapstructure:"prefix"`
	Subtree      string `mapstructure:"subtree"`
	FunctionName string `mapstructure:"function_name"`
	Handler      string `mapstructure:"handler"`
}

type GitConfig struct {
	Transport  string `mapstructure:"transport"`
	SSHKeyPath string `mapstructure:"ssh_key_path"`
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
	Depth      int    `mapstructure:"depth"`
}

type PackageConfig struct {
	Exclude []string `mapstructure:"exclude"`
}

type ProvisionCfg struct {
	Mode string `mapstructure:"mode"`
}

type AWSConfig struct {
	Profile     string `mapstructure:"profile"`
	MaxAttempts int    `mapstructure:"max_attempts"`
}

type TimeoutConfig struct {
	Sync      time.Duration `mapstructure:"sync"`
	Publish   time.Duration `mapstructure:"publish"`
	Provision time.Duration `mapstructure:"provision"`
}

type LockConfig struct {
	RedisURL string        `mapstructure:"redis_url"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type MetricsConfig struct {
	Namespace string `mapstructure:"namespace"`
}

type ServeConfig struct {
	Addr string `mapstructure:"addr"`
}

// ConfigSource tells where a DeploymentConfig came from.
type ConfigSource string

const (
	SourceFile    ConfigSource = "file"
	SourceDefault ConfigSource = "default"
)

// DeploymentConfig is the resolved deployment settings for one invocation.
type DeploymentConfig struct {
	Bucket       string
	KeyPrefix    string
	Subtree      string
	FunctionName string
	Handler      string
	Source       ConfigSource
}

// LocalRepository is the working copy cloned for one invocation.
type LocalRepository struct {
	ID       string
	Path     string
	CloneURL string
	Head     string
}

// Artifact is the zip archive built from a repository subtree.
type Artifact struct {
	Name    string
	Path    string
	Content []byte
	Entries []string
	SHA256  string
}

// ArtifactReference locates a published artifact in object storage.
type ArtifactReference struct {
	Bucket    string
	Key       string
	VersionID string
}

type ProvisionMode int

const (
	ModeCreate ProvisionMode = iota
	ModeUpdateCode
)

func (m ProvisionMode) String() string {
	switch m {
	case ModeCreate:
		return "create"
	case ModeUpdateCode:
		return "update-code"
	default:
		return "unknown"
	}
}

// ProvisionResult is what the function platform reported back.
type ProvisionResult struct {
	Mode         ProvisionMode
	FunctionName string
	FunctionARN  string
	Version      string
}

// StageTiming records how long a pipeline stage took.
type StageTiming struct {
	Stage    string
	Duration time.Duration
}

// Outcome is the terminal report of one pipeline run.
type Outcome struct {
	InvocationID string
	Status       string
	Stage        string
	Repository   *LocalRepository
	Config       DeploymentConfig
	Artifact     *Artifact
	Reference    *ArtifactReference
	Provision    *ProvisionResult
	Timings      []StageTiming
	Event        map[string]any
}
