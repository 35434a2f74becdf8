package config

import (
	"fmt"
	"log"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Debug bool `envconfig:"DEBUG" default:"false"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`

	// Source tree to ingest
	Source          string `envconfig:"SOURCE" default:"local"`
	RootContainerID string `envconfig:"ROOT_CONTAINER_ID"`
	LocalRoot       string `envconfig:"LOCAL_ROOT"`

	DriveCredentialsFile string `envconfig:"DRIVE_CREDENTIALS_FILE"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"corpora-content"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`

	// Labeler selects the annotation backend: "openai" (needs an API key)
	// or "static" (keeps everything, no external calls).
	Labeler         string `envconfig:"LABELER" default:"openai"`
	OpenAIAPIKey    string `envconfig:"OPENAI_API_KEY"`
	LabelerModel    string `envconfig:"LABELER_MODEL"`
	TranscribeModel string `envconfig:"TRANSCRIBE_MODEL"`

	IndexURL    string `envconfig:"INDEX_URL"`
	IndexAPIKey string `envconfig:"INDEX_API_KEY"`

	// Pipeline tuning
	BatchSize                int  `envconfig:"BATCH_SIZE" default:"100"`
	MaxWorkers               int  `envconfig:"MAX_WORKERS" default:"4"`
	MinSectionLength         int  `envconfig:"MIN_SECTION_LENGTH" default:"600"`
	IndexOnSkippedAnnotation bool `envconfig:"INDEX_ON_SKIPPED_ANNOTATION" default:"true"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("CORPORA", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

func (c *Config) HasDrive() bool {
	return c.DriveCredentialsFile != ""
}

func (c *Config) HasIndex() bool {
	return c.IndexURL != ""
}
