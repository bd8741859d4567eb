package configfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/agent-infra/sandbox-go/internal/env"
)

// Profile 是配置文件中的一个 profile
type Profile struct {
	AccessKey  string `toml:"access_key" yaml:"access_key"`
	SecretKey  string `toml:"secret_key" yaml:"secret_key"`
	Region     string `toml:"region" yaml:"region"`
	BaseURL    string `toml:"base_url" yaml:"base_url"`
	Token      string `toml:"token" yaml:"token"`
	FunctionID string `toml:"function_id" yaml:"function_id"`
}

var (
	profileConfigs      map[string]*Profile
	profileConfigsError error
	profileConfigsOnce  sync.Once

	ErrUnsupportedFormat = errors.New("unsupported config file format")
)

// CredentialsFromConfigFile 返回当前 profile 的 AK/SK 与 region，profile 不存在时全部为空
func CredentialsFromConfigFile() (accessKey, secretKey, region string, err error) {
	profile, err := CurrentProfile()
	if err != nil || profile == nil {
		return "", "", "", err
	}
	if profile.AccessKey == "" || profile.SecretKey == "" {
		return "", "", profile.Region, nil
	}
	return profile.AccessKey, profile.SecretKey, profile.Region, nil
}

// CurrentProfile 返回 SANDBOX_PROFILE 指定的 profile（默认 "default"），
// 配置文件不存在时返回 nil, nil
func CurrentProfile() (*Profile, error) {
	if err := load(); err != nil {
		return nil, err
	}
	name := env.ProfileFromEnvironment()
	if name == "" {
		name = "default"
	}
	profile, ok := profileConfigs[name]
	if !ok || profile == nil {
		return nil, nil
	}
	return profile, nil
}

func load() error {
	profileConfigsOnce.Do(func() {
		path := env.ConfigFileFromEnvironment()
		if path == "" {
			path = defaultConfigFilePath()
		}
		profileConfigs, profileConfigsError = loadFrom(path)
	})
	return profileConfigsError
}

func loadFrom(path string) (map[string]*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*Profile{}, nil
		}
		return nil, err
	}

	profiles := make(map[string]*Profile)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml", "":
		_, err = toml.Decode(string(data), &profiles)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &profiles)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return profiles, nil
}

func defaultConfigFilePath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = ""
	}
	return filepath.Join(homeDir, ".agent-sandbox", "config.toml")
}

// reset 清除已加载的配置，仅用于测试
func reset() {
	profileConfigs = nil
	profileConfigsError = nil
	profileConfigsOnce = sync.Once{}
}
