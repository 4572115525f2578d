package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port       int    `yaml:"port" validate:"min=1,max=65535"`
		CORSOrigin string `yaml:"corsOrigin"`
	} `yaml:"server"`

	Log struct {
		Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
		Format string `yaml:"format" validate:"omitempty,oneof=json console"`
	} `yaml:"log"`

	Analysis struct {
		WorkspaceRoot     string   `yaml:"workspaceRoot" validate:"required"`
		FetchDriver       string   `yaml:"fetchDriver" validate:"oneof=cli gogit"`
		FetchTimeoutMS    int      `yaml:"fetchTimeoutMs" validate:"min=1000"`
		AnalysisTimeoutMS int      `yaml:"analysisTimeoutMs" validate:"min=1000"`
		StageGraceMS      int      `yaml:"stageGraceMs" validate:"min=0"`
		AllowedHosts      []string `yaml:"allowedHosts" validate:"min=1,dive,hostname"`
		Version           string   `yaml:"version"`
	} `yaml:"analysis"`

	OpenAI struct {
		APIKey  string `yaml:"apiKey" validate:"required"`
		Model   string `yaml:"model"`
		BaseURL string `yaml:"baseUrl" validate:"omitempty,url"`
	} `yaml:"openai"`

	Advisories struct {
		GitHubToken       string  `yaml:"githubToken" validate:"required"`
		RequestsPerSecond float64 `yaml:"requestsPerSecond" validate:"gt=0"`
		Concurrency       int     `yaml:"concurrency" validate:"min=1,max=32"`
		UseOSVFallback    bool    `yaml:"useOsvFallback"`
	} `yaml:"advisories"`

	Database struct {
		Driver   string `yaml:"driver" validate:"omitempty,oneof=mysql postgres"`
		DSN      string `yaml:"dsn"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
	} `yaml:"database"`

	Minio struct {
		Endpoint   string `yaml:"endpoint"`
		AccessKey  string `yaml:"accessKey"`
		SecretKey  string `yaml:"secretKey"`
		BucketName string `yaml:"bucketName"`
		Region     string `yaml:"region"`
		UseSSL     bool   `yaml:"useSSL"`
	} `yaml:"minio"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	var c Config
	c.Server.Port = 4000
	c.Log.Level = "info"
	c.Log.Format = "json"
	c.Analysis.WorkspaceRoot = "analysis-workspace"
	c.Analysis.FetchDriver = "cli"
	c.Analysis.FetchTimeoutMS = 60_000
	c.Analysis.AnalysisTimeoutMS = 300_000
	c.Analysis.StageGraceMS = 2_000
	c.Analysis.AllowedHosts = []string{"github.com"}
	c.OpenAI.Model = "gpt-4o"
	c.Advisories.RequestsPerSecond = 10
	c.Advisories.Concurrency = 4
	c.Advisories.UseOSVFallback = true
	c.Minio.BucketName = "vulnrisk-reports"
	c.Minio.Region = "us-east-1"
	return &c
}

// Load baca file config.yaml, then applies environment overrides. A missing
// file is not an error.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse %s", path)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, errors.Wrapf(err, "read %s", path)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "%s must be an integer", key)
		}
		*dst = n
		return nil
	}

	str("CORS_ORIGIN", &c.Server.CORSOrigin)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("WORKSPACE_ROOT", &c.Analysis.WorkspaceRoot)
	str("FETCH_DRIVER", &c.Analysis.FetchDriver)
	str("OPENAI_API_KEY", &c.OpenAI.APIKey)
	str("OPENAI_MODEL", &c.OpenAI.Model)
	str("OPENAI_BASE_URL", &c.OpenAI.BaseURL)
	str("GITHUB_TOKEN", &c.Advisories.GitHubToken)
	str("DATABASE_DRIVER", &c.Database.Driver)
	str("DATABASE_DSN", &c.Database.DSN)
	str("MINIO_ENDPOINT", &c.Minio.Endpoint)
	str("MINIO_ACCESS_KEY", &c.Minio.AccessKey)
	str("MINIO_SECRET_KEY", &c.Minio.SecretKey)
	str("MINIO_BUCKET", &c.Minio.BucketName)

	for key, dst := range map[string]*int{
		"PORT":                &c.Server.Port,
		"CLONE_TIMEOUT_MS":    &c.Analysis.FetchTimeoutMS,
		"ANALYSIS_TIMEOUT_MS": &c.Analysis.AnalysisTimeoutMS,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}
	c.Log.Level = strings.ToLower(c.Log.Level)
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the loaded configuration. Missing secrets are errors.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return errors.Newf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return errors.Wrap(err, "invalid configuration")
	}
	if c.Database.Driver != "" && c.databaseDSN() == "" {
		return errors.New("invalid configuration: database driver set without dsn or host")
	}
	return nil
}

// Warnings reports values that look wrong but do not block startup.
func (c *Config) Warnings() []string {
	var out []string
	if k := c.OpenAI.APIKey; k != "" && !strings.HasPrefix(k, "sk-") {
		out = append(out, "OPENAI_API_KEY format may be invalid (expected sk- prefix)")
	}
	if t := c.Advisories.GitHubToken; t != "" && !strings.HasPrefix(t, "ghp_") && !strings.HasPrefix(t, "github_pat_") {
		out = append(out, "GITHUB_TOKEN format may be invalid (expected ghp_ or github_pat_ prefix)")
	}
	if c.Server.CORSOrigin == "" || c.Server.CORSOrigin == "*" {
		out = append(out, "CORS_ORIGIN not set, allowing every origin")
	}
	return out
}

func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Analysis.FetchTimeoutMS) * time.Millisecond
}

func (c *Config) AnalysisTimeout() time.Duration {
	return time.Duration(c.Analysis.AnalysisTimeoutMS) * time.Millisecond
}

func (c *Config) StageGrace() time.Duration {
	return time.Duration(c.Analysis.StageGraceMS) * time.Millisecond
}

// DatabaseDSN returns the DSN for the configured driver, or "" when history
// is disabled.
func (c *Config) DatabaseDSN() string {
	if c.Database.Driver == "" {
		return ""
	}
	return c.databaseDSN()
}

func (c *Config) databaseDSN() string {
	if c.Database.DSN != "" {
		return c.Database.DSN
	}
	if c.Database.Host == "" {
		return ""
	}
	if c.Database.Driver == "postgres" {
		return c.PostgresDSN()
	}
	return c.MySQLDSN()
}

// Helper untuk build DSN MySQL
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}

func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}
