// Package config loads pipeline settings from YAML or JSON files.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"workpipe/internal/logger"
	"workpipe/internal/pipeline"
	"workpipe/internal/queue"
	"workpipe/internal/transform"
	"workpipe/internal/worker"

	"gopkg.in/yaml.v3"
)

// FileConfig は設定ファイルの構造
type FileConfig struct {
	Pipeline PipelineConfig `yaml:"pipeline" json:"pipeline"`
	Queue    QueueConfig    `yaml:"queue" json:"queue"`
	Wait     WaitConfig     `yaml:"wait" json:"wait"`
	Producer ProducerConfig `yaml:"producer" json:"producer"`
	Log      LogConfig      `yaml:"log" json:"log"`
	Server   ServerConfig   `yaml:"server" json:"server"`
}

// PipelineConfig はパイプライン設定
type PipelineConfig struct {
	Preset      string `yaml:"preset" json:"preset"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	MaxItems    *int   `yaml:"max_items" json:"max_items"`
	Workers     *int   `yaml:"workers" json:"workers"`
	Transform   string `yaml:"transform" json:"transform"`
}

// QueueConfig はキュー設定
type QueueConfig struct {
	Kind     string `yaml:"kind" json:"kind"`
	Capacity int    `yaml:"capacity" json:"capacity"`
}

// WaitConfig は空キュー時の待機設定
type WaitConfig struct {
	Strategy   string `yaml:"strategy" json:"strategy"`
	MaxBackoff string `yaml:"max_backoff" json:"max_backoff"`
}

// ProducerConfig はプロデューサー設定
type ProducerConfig struct {
	Rate        float64 `yaml:"rate" json:"rate"`
	Burst       int     `yaml:"burst" json:"burst"`
	FinishDelay string  `yaml:"finish_delay" json:"finish_delay"`
}

// LogConfig はログ設定
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// ServerConfig はサーバー設定
type ServerConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

// LoadFile は設定ファイルを読み込む
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config FileConfig
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}

	return &config, nil
}

// ToPipelineConfig はFileConfigをpipeline.Configに変換する
func (f *FileConfig) ToPipelineConfig() (pipeline.Config, error) {
	pc := f.Pipeline

	// ベース設定（プリセットまたはデフォルト）
	config := pipeline.DefaultConfig()
	if pc.Preset != "" {
		preset, ok := pipeline.GetPreset(pc.Preset)
		if !ok {
			return config, fmt.Errorf("unknown preset: %s (available: %v)", pc.Preset, pipeline.ListPresets())
		}
		config = preset
	}

	if pc.Name != "" {
		config.Name = pc.Name
	}
	if pc.Description != "" {
		config.Description = pc.Description
	}
	if pc.MaxItems != nil {
		config.MaxItems = *pc.MaxItems
	}
	if pc.Workers != nil {
		config.Workers = *pc.Workers
	}
	if pc.Transform != "" {
		config.Transform = pc.Transform
	}

	// キュー設定
	if f.Queue.Kind != "" {
		kind, err := queue.ParseKind(f.Queue.Kind)
		if err != nil {
			return config, err
		}
		config.QueueKind = kind
	}
	if f.Queue.Capacity > 0 {
		config.QueueCapacity = f.Queue.Capacity
	}

	// 待機設定
	if f.Wait.Strategy != "" {
		wait, err := worker.ParseWaitStrategy(f.Wait.Strategy)
		if err != nil {
			return config, err
		}
		config.Wait = wait
	}
	if f.Wait.MaxBackoff != "" {
		d, err := time.ParseDuration(f.Wait.MaxBackoff)
		if err != nil {
			return config, fmt.Errorf("invalid max_backoff: %w", err)
		}
		config.MaxBackoff = d
	}

	// プロデューサー設定
	if f.Producer.Rate > 0 {
		config.ProduceRate = f.Producer.Rate
	}
	if f.Producer.Burst > 0 {
		config.ProduceBurst = f.Producer.Burst
	}
	if f.Producer.FinishDelay != "" {
		d, err := time.ParseDuration(f.Producer.FinishDelay)
		if err != nil {
			return config, fmt.Errorf("invalid finish_delay: %w", err)
		}
		config.FinishDelay = d
	}

	return config, nil
}

// LogSettings はログレベルと出力形式を返す
func (f *FileConfig) LogSettings() (logger.Level, logger.Format, error) {
	level, err := logger.ParseLevel(f.Log.Level)
	if err != nil {
		return level, logger.FormatText, err
	}
	format, err := logger.ParseFormat(f.Log.Format)
	if err != nil {
		return level, format, err
	}
	return level, format, nil
}

// Validate は設定を検証する
func (f *FileConfig) Validate() error {
	pc := f.Pipeline

	if pc.MaxItems != nil && *pc.MaxItems < 0 {
		return fmt.Errorf("pipeline.max_items must be non-negative")
	}

	if pc.Workers != nil && *pc.Workers <= 0 {
		return fmt.Errorf("pipeline.workers must be positive")
	}

	if pc.Transform != "" {
		if _, err := transform.Lookup(pc.Transform); err != nil {
			return fmt.Errorf("pipeline.transform: %w", err)
		}
	}

	if f.Queue.Capacity < 0 {
		return fmt.Errorf("queue.capacity must be non-negative")
	}

	if f.Producer.Rate < 0 {
		return fmt.Errorf("producer.rate must be non-negative")
	}

	if f.Producer.Burst < 0 {
		return fmt.Errorf("producer.burst must be non-negative")
	}

	if _, _, err := f.LogSettings(); err != nil {
		return fmt.Errorf("log: %w", err)
	}

	return nil
}
