package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/tendant/simple-objectstore/pkg/objectstore"
)

// envConfig lists the environment variables read by WithEnv
type envConfig struct {
	StorageURL string `env:"OBJECTSTORE_STORAGE_URL"`
	PageSize   int    `env:"OBJECTSTORE_PAGE_SIZE"`
	MaxRetries int    `env:"OBJECTSTORE_MAX_RETRIES" env-default:"-1"`

	LogLevel  string `env:"OBJECTSTORE_LOG_LEVEL"`
	LogFormat string `env:"OBJECTSTORE_LOG_FORMAT"`

	Port       string `env:"OBJECTSTORE_PORT"`
	AuthSecret string `env:"OBJECTSTORE_JWT_SECRET"`

	Postgres struct {
		Schema string `env:"OBJECTSTORE_PG_SCHEMA"`
	}

	S3 struct {
		AccessKeyID       string `env:"AWS_ACCESS_KEY_ID"`
		SecretAccessKey   string `env:"AWS_SECRET_ACCESS_KEY"`
		Region            string `env:"AWS_REGION"`
		Endpoint          string `env:"AWS_S3_ENDPOINT"`
		DeleteConcurrency int    `env:"OBJECTSTORE_S3_DELETE_CONCURRENCY"`
	}

	Minio struct {
		AccessKey string `env:"MINIO_ACCESS_KEY"`
		SecretKey string `env:"MINIO_SECRET_KEY"`
	}

	Remote struct {
		Token         string        `env:"OBJECTSTORE_REMOTE_TOKEN"`
		SigningSecret string        `env:"OBJECTSTORE_REMOTE_SECRET"`
		Subject       string        `env:"OBJECTSTORE_REMOTE_SUBJECT" env-default:"objectstore"`
		Timeout       time.Duration `env:"OBJECTSTORE_REMOTE_TIMEOUT"`
	}
}

// WithEnv applies environment variable overrides.
//
// Storage:
//
//	OBJECTSTORE_STORAGE_URL - backend connection string, see WithStorageURL
//	                          (default: memory://)
//
// Credentials, applied before the storage URL is parsed:
//
//	AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY, AWS_REGION, AWS_S3_ENDPOINT
//	MINIO_ACCESS_KEY, MINIO_SECRET_KEY
//	OBJECTSTORE_REMOTE_TOKEN or OBJECTSTORE_REMOTE_SECRET
//
// Client and process:
//
//	OBJECTSTORE_PAGE_SIZE, OBJECTSTORE_MAX_RETRIES
//	OBJECTSTORE_LOG_LEVEL, OBJECTSTORE_LOG_FORMAT
//	OBJECTSTORE_PORT, OBJECTSTORE_JWT_SECRET
func WithEnv() Option {
	return func(c *Config) error {
		var env envConfig
		if err := cleanenv.ReadEnv(&env); err != nil {
			return fmt.Errorf("failed to read environment: %w", err)
		}

		applyCredentialEnv(&env, c)

		if env.StorageURL != "" {
			if err := WithStorageURL(env.StorageURL)(c); err != nil {
				return err
			}
		}

		if env.PageSize != 0 {
			if err := WithPageSize(env.PageSize)(c); err != nil {
				return err
			}
		}
		if env.MaxRetries >= 0 {
			policy := c.Retry
			if policy.InitialInterval == 0 {
				policy = objectstore.DefaultRetryPolicy
			}
			policy.MaxRetries = env.MaxRetries
			c.Retry = policy
		}

		if env.LogLevel != "" || env.LogFormat != "" {
			if err := WithLog(env.LogLevel, env.LogFormat)(c); err != nil {
				return err
			}
		}
		if env.Port != "" {
			c.Server.Port = env.Port
		}
		if env.AuthSecret != "" {
			c.Server.AuthSecret = env.AuthSecret
		}

		return nil
	}
}

func applyCredentialEnv(env *envConfig, c *Config) {
	if env.Postgres.Schema != "" {
		c.Postgres.Schema = env.Postgres.Schema
	}

	if env.S3.AccessKeyID != "" {
		c.S3.AccessKeyID = env.S3.AccessKeyID
	}
	if env.S3.SecretAccessKey != "" {
		c.S3.SecretAccessKey = env.S3.SecretAccessKey
	}
	if env.S3.Region != "" {
		c.S3.Region = env.S3.Region
		c.Minio.Region = env.S3.Region
	}
	if env.S3.Endpoint != "" {
		c.S3.Endpoint = env.S3.Endpoint
	}
	if env.S3.DeleteConcurrency > 0 {
		c.S3.DeleteConcurrency = env.S3.DeleteConcurrency
	}

	if env.Minio.AccessKey != "" {
		c.Minio.AccessKey = env.Minio.AccessKey
	}
	if env.Minio.SecretKey != "" {
		c.Minio.SecretKey = env.Minio.SecretKey
	}

	if env.Remote.Token != "" {
		c.Remote.Token = env.Remote.Token
	}
	if env.Remote.SigningSecret != "" {
		c.Remote.SigningSecret = env.Remote.SigningSecret
	}
	if env.Remote.Subject != "" {
		c.Remote.Subject = env.Remote.Subject
	}
	if env.Remote.Timeout > 0 {
		c.Remote.Timeout = env.Remote.Timeout
	}
}
