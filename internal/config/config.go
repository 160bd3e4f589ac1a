package config

import (
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv   string `env:"APP_ENV" envDefault:"local"`
	HTTPPort int    `env:"HTTP_PORT" envDefault:"5050"`

	AzureOpenAIEndpoint   string `env:"AZURE_OPENAI_ENDPOINT"`
	AzureOpenAIAPIKey     string `env:"AZURE_OPENAI_API_KEY"`
	AzureOpenAIAPIVersion string `env:"AZURE_OPENAI_API_VERSION" envDefault:"2024-08-01-preview"`
	DeploymentName        string `env:"DEPLOYMENT_NAME"`

	PoolSize        int           `env:"POOL_SIZE" envDefault:"2"`
	MaxRetries      int           `env:"MAX_RETRIES" envDefault:"5"`
	MinRetryWait    time.Duration `env:"MIN_RETRY_WAIT" envDefault:"5s"`
	MaxRetryWait    time.Duration `env:"MAX_RETRY_WAIT" envDefault:"120s"`
	RateLimitRPS    float64       `env:"RATE_LIMIT_RPS" envDefault:"1"`
	MaxOutputTokens int           `env:"MAX_OUTPUT_TOKENS" envDefault:"4096"`

	CategorizeBatchSize int `env:"CATEGORIZE_BATCH_SIZE" envDefault:"5"`

	InputDir   string `env:"INPUT_DIRECTORY" envDefault:"./output/output_raw"`
	OutputDir  string `env:"OUTPUT_DIRECTORY" envDefault:"./output/output_quotes"`
	PromptsDir string `env:"PROMPTS_DIR" envDefault:"./prompts"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ExtractPromptPath is the system prompt template for the quote extraction stage.
func (c *Config) ExtractPromptPath() string {
	return filepath.Join(c.PromptsDir, "a_extract_quotes_prompt.txt")
}

// AnalyzePromptPath is the system prompt for clustering summaries into codes.
func (c *Config) AnalyzePromptPath() string {
	return filepath.Join(c.PromptsDir, "b_analyze_summaries_prompt.txt")
}

// CategorizePromptPath is the system prompt for assigning codes to quotes.
func (c *Config) CategorizePromptPath() string {
	return filepath.Join(c.PromptsDir, "c_categorize_quotes_prompt.txt")
}
