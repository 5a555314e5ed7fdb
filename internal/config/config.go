// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config defines the application configuration, loaded from TOML
// files. A base file (".env.toml") is read first and an environment-specific
// file (".env.<runtime>.toml") overrides it, the runtime being selected by
// an environment variable.
package config

import (
	"errors"
	"log"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	ConfigFileBaseName  = ".env"
	ConfigFileExtension = ".toml"
	ConfigSeparator     = "."
	// EnvConfigFilePrefix names the directory holding the config files.
	EnvConfigFilePrefix = "SR_CONFIG_PREFIX"
	// EnvConfigRuntime selects the override file (e.g. "local", "test").
	EnvConfigRuntime = "SR_RUNTIME"
)

// Application holds general service settings.
type Application struct {
	Name           string `toml:"name"`
	ListenAddr     string `toml:"listen_addr"`
	WorkerPoolSize int    `toml:"worker_pool_size"` // preprocessing worker width
}

// Storage holds the durable store location. Segment records and the
// vector/tag index share one SQLite database.
type Storage struct {
	DatabasePath string `toml:"database_path"`
}

// Provider configures the external tagging/embedding provider.
type Provider struct {
	BaseURL           string `toml:"base_url"`
	TagModel          string `toml:"tag_model"`
	EmbedModel        string `toml:"embed_model"`
	EmbedDimensions   int    `toml:"embed_dimensions"`
	MaxInFlight       int    `toml:"max_in_flight"`
	RequestsPerMinute int    `toml:"max_requests_per_minute"`
	MaxRetries        int    `toml:"max_retries"`
}

// Segmenter configures shot boundary detection.
type Segmenter struct {
	FFmpegPath        string  `toml:"ffmpeg_path"`
	FFprobePath       string  `toml:"ffprobe_path"`
	MaxSegmentSeconds float64 `toml:"max_segment_seconds"`
	MinSegmentSeconds float64 `toml:"min_segment_seconds"`
	SceneThreshold    float64 `toml:"scene_threshold"`
}

// Index configures the vector index.
type Index struct {
	// LinearScanThreshold is the collection size below which search is an
	// exact linear scan; at or above it the clustered index is used.
	LinearScanThreshold int `toml:"linear_scan_threshold"`
	Clusters            int `toml:"clusters"`
	Probes              int `toml:"probes"`
}

// Ranker configures hybrid score weighting. The 0.4/0.6 split is the shipped
// default; deployments may tune it.
type Ranker struct {
	TagWeight      float64 `toml:"tag_weight"`
	VectorWeight   float64 `toml:"vector_weight"`
	RelevanceFloor float64 `toml:"relevance_floor"`
}

// Cache configures the candidate cache.
type Cache struct {
	TTLMinutes    int `toml:"ttl_minutes"`
	ReaperSeconds int `toml:"reaper_seconds"`
}

// RoughCut configures clip extraction.
type RoughCut struct {
	OutputDir      string  `toml:"output_dir"`
	EpsilonSeconds float64 `toml:"epsilon_seconds"` // stream-copy duration tolerance
}

// Config is the root configuration object.
type Config struct {
	Application Application `toml:"application"`
	Storage     Storage     `toml:"storage"`
	Provider    Provider    `toml:"provider"`
	Segmenter   Segmenter   `toml:"segmenter"`
	Index       Index       `toml:"index"`
	Ranker      Ranker      `toml:"ranker"`
	Cache       Cache       `toml:"cache"`
	RoughCut    RoughCut    `toml:"rough_cut"`
}

// NewConfig creates a Config populated with working defaults; TOML files
// override whatever they name.
func NewConfig() *Config {
	return &Config{
		Application: Application{
			Name:           "shot-recall",
			ListenAddr:     ":8080",
			WorkerPoolSize: 4,
		},
		Storage: Storage{DatabasePath: "shotrecall.db"},
		Provider: Provider{
			TagModel:          "gpt-4o-mini",
			EmbedModel:        "text-embedding-3-small",
			EmbedDimensions:   1536,
			MaxInFlight:       4,
			RequestsPerMinute: 60,
			MaxRetries:        3,
		},
		Segmenter: Segmenter{
			FFmpegPath:        "ffmpeg",
			FFprobePath:       "ffprobe",
			MaxSegmentSeconds: 10.0,
			MinSegmentSeconds: 0.5,
			SceneThreshold:    0.4,
		},
		Index: Index{
			LinearScanThreshold: 1000,
			Clusters:            32,
			Probes:              4,
		},
		Ranker: Ranker{
			TagWeight:      0.4,
			VectorWeight:   0.6,
			RelevanceFloor: 0.05,
		},
		Cache: Cache{
			TTLMinutes:    30,
			ReaperSeconds: 60,
		},
		RoughCut: RoughCut{
			OutputDir:      os.TempDir(),
			EpsilonSeconds: 0.25,
		},
	}
}

func fileExists(in string) bool {
	_, err := os.Stat(in)
	return !errors.Is(err, os.ErrNotExist)
}

// LoadConfig populates baseConfig from the base TOML file and then from the
// runtime-specific override file, when they exist. The config directory and
// runtime name come from SR_CONFIG_PREFIX and SR_RUNTIME.
func LoadConfig(baseConfig interface{}) {
	configurationFilePrefix := os.Getenv(EnvConfigFilePrefix)
	if len(configurationFilePrefix) > 0 && !strings.HasSuffix(configurationFilePrefix, string(os.PathSeparator)) {
		configurationFilePrefix = configurationFilePrefix + string(os.PathSeparator)
	}

	runtimeEnvironment := os.Getenv(EnvConfigRuntime)
	if runtimeEnvironment == "" {
		runtimeEnvironment = "local"
	}

	baseConfigFileName := configurationFilePrefix + ConfigFileBaseName + ConfigFileExtension
	envConfigFileName := configurationFilePrefix + ConfigFileBaseName + ConfigSeparator + runtimeEnvironment + ConfigFileExtension

	if fileExists(baseConfigFileName) {
		if _, err := toml.DecodeFile(baseConfigFileName, baseConfig); err != nil {
			log.Fatalf("failed to decode base configuration file %s with error: %s", baseConfigFileName, err)
		}
	}

	if fileExists(envConfigFileName) {
		if _, err := toml.DecodeFile(envConfigFileName, baseConfig); err != nil {
			log.Fatalf("failed to decode environment configuration file: %s with error: %s", envConfigFileName, err)
		}
	}
}
