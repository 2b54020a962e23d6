/*
Copyright 2024 Distro Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package platform

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/ugamusic/distro/model"
)

type ProviderConfig struct {
	Code            string            `yaml:"code"`
	Enabled         bool              `yaml:"enabled"`
	APIKey          string            `yaml:"api_key"`
	APISecret       string            `yaml:"api_secret,omitempty"`
	AuthType        string            `yaml:"auth_type"`
	AuthHeader      string            `yaml:"auth_header,omitempty"`
	BaseURL         string            `yaml:"base_url"`
	TimeoutSec      int               `yaml:"timeout_sec,omitempty"`
	Endpoints       EndpointsConfig   `yaml:"endpoints"`
	FieldMapping    map[string]string `yaml:"field_mapping,omitempty"`
	ResponseMapping ResponseMapping   `yaml:"response_mapping"`
}

type EndpointsConfig struct {
	Submit   string `yaml:"submit"`
	Status   string `yaml:"status"`
	Takedown string `yaml:"takedown"`
}

type ResponseMapping struct {
	SubmissionIDField string         `yaml:"submission_id_field"`
	StatusField       string         `yaml:"status_field"`
	URLField          string         `yaml:"url_field"`
	PlatformIDField   string         `yaml:"platform_id_field"`
	ReasonField       string         `yaml:"reason_field,omitempty"`
	ErrorCodeField    string         `yaml:"error_code_field,omitempty"`
	LiveValues        []string       `yaml:"live_values"`
	RejectedValues    []string       `yaml:"rejected_values"`
	FailedValues      []string       `yaml:"failed_values"`
	Metrics           MetricsMapping `yaml:"metrics,omitempty"`
}

// MetricsMapping locates the metrics block of a status response. An empty
// StreamsField means the platform does not report metrics on status checks.
type MetricsMapping struct {
	StreamsField      string `yaml:"streams_field"`
	RevenueField      string `yaml:"revenue_field"`
	ListenersField    string `yaml:"listeners_field,omitempty"`
	CountriesField    string `yaml:"countries_field,omitempty"`
	PlaylistAddsField string `yaml:"playlist_adds_field,omitempty"`
	AsOfField         string `yaml:"as_of_field,omitempty"`
}

type PlatformsConfig struct {
	Platforms []ProviderConfig `yaml:"platforms"`
}

func LoadConfig(filepath string) (*PlatformsConfig, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, err
	}
	return LoadConfigFromBytes(data)
}

func LoadConfigFromBytes(data []byte) (*PlatformsConfig, error) {
	var config PlatformsConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, err
	}
	return &config, nil
}

// LoadAdapters builds an HTTP adapter for every enabled, valid platform in the
// config file and registers it. Invalid entries are logged and skipped.
func (r *Registry) LoadAdapters(configPath string) error {
	config, err := LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load platform config: %w", err)
	}
	return r.loadAdapters(config)
}

func (r *Registry) LoadAdaptersFromBytes(data []byte) error {
	config, err := LoadConfigFromBytes(data)
	if err != nil {
		return fmt.Errorf("failed to parse platform config: %w", err)
	}
	return r.loadAdapters(config)
}

func (r *Registry) loadAdapters(config *PlatformsConfig) error {
	for _, providerConfig := range config.Platforms {
		if !providerConfig.Enabled {
			logrus.Infof("platform %s is disabled, skipping", providerConfig.Code)
			continue
		}

		providerConfig.APIKey = expandEnvVar(providerConfig.APIKey)
		providerConfig.APISecret = expandEnvVar(providerConfig.APISecret)

		if err := validateProviderConfig(providerConfig); err != nil {
			logrus.Warnf("invalid config for platform %s: %v", providerConfig.Code, err)
			continue
		}

		adapter, err := NewHTTPAdapter(providerConfig)
		if err != nil {
			logrus.Warnf("could not build adapter for platform %s: %v", providerConfig.Code, err)
			continue
		}
		r.Register(adapter)
		logrus.Infof("loaded platform adapter from config: %s", providerConfig.Code)
	}
	return nil
}

func expandEnvVar(value string) string {
	if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
		envName := value[2 : len(value)-1]
		if envValue := os.Getenv(envName); envValue != "" {
			return envValue
		}
	}
	return value
}

func validateProviderConfig(config ProviderConfig) error {
	if _, err := model.ParsePlatformCode(config.Code); err != nil {
		return err
	}
	if config.APIKey == "" {
		return fmt.Errorf("api_key is required")
	}
	if config.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if config.Endpoints.Submit == "" {
		return fmt.Errorf("endpoints.submit is required")
	}
	if config.Endpoints.Status == "" {
		return fmt.Errorf("endpoints.status is required")
	}
	if config.Endpoints.Takedown == "" {
		return fmt.Errorf("endpoints.takedown is required")
	}
	if config.ResponseMapping.SubmissionIDField == "" {
		return fmt.Errorf("response_mapping.submission_id_field is required")
	}
	if config.ResponseMapping.StatusField == "" {
		return fmt.Errorf("response_mapping.status_field is required")
	}
	return nil
}
