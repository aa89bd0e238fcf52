// Package config assembles the settings of every component from a .env
// file, an optional YAML file and SHEETSOLVER_* environment variables, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/abhisek/sheetsolver/internal/cache"
	"github.com/abhisek/sheetsolver/internal/extraction"
	"github.com/abhisek/sheetsolver/internal/llm"
	"github.com/abhisek/sheetsolver/internal/logging"
	"github.com/abhisek/sheetsolver/internal/pipeline"
	"github.com/abhisek/sheetsolver/internal/store"
)

// Config is the resolved configuration of one sheetsolver run.
type Config struct {
	Extraction extraction.Config
	Vision     llm.Config
	Reasoning  llm.Config
	Store      store.Config
	Cache      cache.Config
	Log        logging.Config

	StageTimeout time.Duration
	Concurrency  int
	Persist      bool
}

// File is the YAML configuration file layout. Credentials are deliberately
// absent: they come from the environment or .env.
type File struct {
	Extraction struct {
		URL string `yaml:"url"`
	} `yaml:"extraction"`

	Vision    ModelFile `yaml:"vision"`
	Reasoning ModelFile `yaml:"reasoning"`

	Store struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"store"`

	Redis struct {
		URL string        `yaml:"url"`
		TTL time.Duration `yaml:"ttl"`
	} `yaml:"redis"`

	Pipeline struct {
		StageTimeout time.Duration `yaml:"stage_timeout"`
		Concurrency  *int          `yaml:"concurrency"`
		Persist      bool          `yaml:"persist"`
	} `yaml:"pipeline"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// ModelFile picks the provider and model of one stage. Timeout bounds one
// model call including its retries.
type ModelFile struct {
	Provider string        `yaml:"provider"`
	Model    string        `yaml:"model"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Extraction:   extraction.DefaultConfig(),
		Vision:       llm.DefaultConfig(),
		Reasoning:    llm.DefaultConfig(),
		Store:        store.Config{Driver: store.DriverSQLite},
		Log:          logging.Config{Level: "info", Format: "console"},
		StageTimeout: pipeline.DefaultStageTimeout,
		Concurrency:  pipeline.DefaultConcurrency,
	}
}

// Load resolves the configuration. envFile is loaded first when it exists
// (variables already set win), then the YAML file at path when path is not
// empty, then the environment.
func Load(path, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	var f File
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg := Default()
	if err := cfg.apply(f); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) apply(f File) error {
	c.Extraction = extraction.ConfigFromEnv()
	if c.Extraction.BaseURL == "" {
		c.Extraction.BaseURL = f.Extraction.URL
	}

	c.Vision = llm.ConfigFromEnv(llm.PurposeVision)
	applyModel(&c.Vision, llm.PurposeVision, f.Vision)
	c.Reasoning = llm.ConfigFromEnv(llm.PurposeReasoning)
	applyModel(&c.Reasoning, llm.PurposeReasoning, f.Reasoning)
	if err := applyLLMTimeout(&c.Vision, llm.PurposeVision); err != nil {
		return err
	}
	if err := applyLLMTimeout(&c.Reasoning, llm.PurposeReasoning); err != nil {
		return err
	}

	c.Store.Driver = firstSet(os.Getenv("SHEETSOLVER_DB_DRIVER"), f.Store.Driver, c.Store.Driver)
	c.Store.DSN = firstSet(os.Getenv("SHEETSOLVER_DB_DSN"), f.Store.DSN)

	c.Cache = cache.ConfigFromEnv()
	if c.Cache.URL == "" {
		c.Cache.URL = f.Redis.URL
	}
	c.Cache.TTL = f.Redis.TTL

	c.Log.Level = firstSet(os.Getenv("SHEETSOLVER_LOG_LEVEL"), f.Log.Level, c.Log.Level)
	c.Log.Format = firstSet(os.Getenv("SHEETSOLVER_LOG_FORMAT"), f.Log.Format, c.Log.Format)

	if f.Pipeline.StageTimeout > 0 {
		c.StageTimeout = f.Pipeline.StageTimeout
	}
	if v := os.Getenv("SHEETSOLVER_STAGE_TIMEOUT"); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("SHEETSOLVER_STAGE_TIMEOUT: %w", err)
		}
		c.StageTimeout = d
	}

	if f.Pipeline.Concurrency != nil {
		c.Concurrency = *f.Pipeline.Concurrency
	}
	if v := os.Getenv("SHEETSOLVER_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SHEETSOLVER_CONCURRENCY: %w", err)
		}
		c.Concurrency = n
	}

	c.Persist = f.Pipeline.Persist
	if v := os.Getenv("SHEETSOLVER_PERSIST"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("SHEETSOLVER_PERSIST: %w", err)
		}
		c.Persist = b
	}
	return nil
}

// applyModel lets the file choose a stage's provider and model unless the
// environment already did. The environment's model always lands on the
// provider that is finally selected.
func applyModel(cfg *llm.Config, purpose string, m ModelFile) {
	prefix := "SHEETSOLVER_" + strings.ToUpper(purpose) + "_"
	envModel := os.Getenv(prefix + "MODEL")

	if m.Provider != "" && os.Getenv(prefix+"PROVIDER") == "" && os.Getenv("SHEETSOLVER_LLM_PROVIDER") == "" {
		cfg.Provider = m.Provider
		if envModel != "" {
			cfg.SetModel(envModel)
		}
	}
	if m.Model != "" && envModel == "" {
		cfg.SetModel(m.Model)
	}
	if m.Timeout > 0 {
		cfg.Timeout = m.Timeout
	}
}

// applyLLMTimeout reads SHEETSOLVER_<PURPOSE>_LLM_TIMEOUT, falling back to
// SHEETSOLVER_LLM_TIMEOUT.
func applyLLMTimeout(cfg *llm.Config, purpose string) error {
	key := "SHEETSOLVER_" + strings.ToUpper(purpose) + "_LLM_TIMEOUT"
	v := os.Getenv(key)
	if v == "" {
		key = "SHEETSOLVER_LLM_TIMEOUT"
		v = os.Getenv(key)
	}
	if v == "" {
		return nil
	}
	d, err := parseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	cfg.Timeout = d
	return nil
}

// parseDuration accepts Go durations ("90s") and bare milliseconds ("60000").
func parseDuration(v string) (time.Duration, error) {
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(v)
}

func firstSet(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
