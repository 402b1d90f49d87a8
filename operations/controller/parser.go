package controller

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/sithukyaw666/pushdeploy/model"
	"gopkg.in/yaml.v3"
)

const (
	DeploymentSection = "DeploymentConfiguration"
	FunctionSection   = "LambdaConfiguration"
)

var requiredDeploymentFields = []string{"S3Bucket", "S3PrefixDeployments", "LambdaDirectory"}

// ParseMetadataFile reads the repository's deployment metadata document.
// JSON is the canonical format; .yaml and .yml files are accepted too.
func ParseMetadataFile(filePath string) (map[string]any, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata file %s: %w", filePath, err)
	}

	doc := map[string]any{}
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &doc)
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		err = dec.Decode(&doc)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata file: %w", err)
	}
	return doc, nil
}

// ConfigResolver turns a repository's metadata file into a DeploymentConfig.
// It never blocks a deployment: any problem with the file yields Defaults.
type ConfigResolver struct {
	Defaults model.DefaultsConfig
	Logger   *slog.Logger
}

// Resolve returns the deployment settings for the working copy at localPath.
func (r *ConfigResolver) Resolve(localPath, fileName string) model.DeploymentConfig {
	cfg, _ := r.ResolveWithReason(localPath, fileName)
	return cfg
}

// ResolveWithReason is Resolve that also reports, as a ConfigError, why the
// defaults were used. The error is nil when the file was used.
func (r *ConfigResolver) ResolveWithReason(localPath, fileName string) (model.DeploymentConfig, error) {
	path := filepath.Join(localPath, fileName)

	doc, err := ParseMetadataFile(path)
	if err != nil {
		return r.fallback(path, ConfigError("read", err))
	}

	section, ok := asMap(doc[DeploymentSection])
	if !ok {
		return r.fallback(path, ConfigError("section", fmt.Errorf("missing %s section", DeploymentSection)))
	}
	for _, field := range requiredDeploymentFields {
		if v, present := section[field]; !present || v == nil {
			return r.fallback(path, ConfigError("section", fmt.Errorf("%s.%s is missing", DeploymentSection, field)))
		}
	}

	cfg := model.DeploymentConfig{
		Bucket:       scalarString(section["S3Bucket"]),
		KeyPrefix:    scalarString(section["S3PrefixDeployments"]),
		Subtree:      scalarString(section["LambdaDirectory"]),
		FunctionName: scalarString(section["FunctionName"]),
		Handler:      scalarString(section["Handler"]),
		Source:       model.SourceFile,
	}

	fn, _ := asMap(doc[FunctionSection])
	if cfg.FunctionName == "" {
		cfg.FunctionName = scalarString(fn["FunctionName"])
	}
	if cfg.FunctionName == "" {
		cfg.FunctionName = r.Defaults.FunctionName
	}
	if cfg.Handler == "" {
		cfg.Handler = scalarString(fn["Handler"])
	}
	if cfg.Handler == "" {
		cfg.Handler = r.Defaults.Handler
	}

	r.Logger.Info("Resolved deployment configuration from file",
		"path", path,
		"bucket", cfg.Bucket,
		"prefix", cfg.KeyPrefix,
		"subtree", cfg.Subtree,
		"function", cfg.FunctionName)
	return cfg, nil
}

func (r *ConfigResolver) fallback(path string, reason error) (model.DeploymentConfig, error) {
	cfg := model.DeploymentConfig{
		Bucket:       r.Defaults.Bucket,
		KeyPrefix:    r.Defaults.Prefix,
		Subtree:      r.Defaults.Subtree,
		FunctionName: r.Defaults.FunctionName,
		Handler:      r.Defaults.Handler,
		Source:       model.SourceDefault,
	}
	r.Logger.Warn("Failed to load deployment configuration, using defaults",
		"path", path,
		"reason", reason,
		"bucket", cfg.Bucket,
		"subtree", cfg.Subtree,
		"function", cfg.FunctionName)
	return cfg, reason
}

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

// scalarString renders a metadata value as text without interpreting it.
func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
