package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"debate_simulator/internal/llm"
)

// Config represents the application configuration
type Config struct {
	Server struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"server"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // text or json
	} `yaml:"log"`

	LLM struct {
		Provider    string  `yaml:"provider"` // gemini or openai
		APIKey      string  `yaml:"api_key"`
		APIURL      string  `yaml:"api_url"`
		Model       string  `yaml:"model"`
		Timeout     int     `yaml:"timeout"`
		MaxTokens   int     `yaml:"max_tokens"`
		Temperature float64 `yaml:"temperature"`
	} `yaml:"llm"`

	Judge struct {
		MaxTokens   int     `yaml:"max_tokens"`
		Temperature float64 `yaml:"temperature"`
	} `yaml:"judge"`

	Debate struct {
		MaxTurns          int  `yaml:"max_turns"`
		MinContentLength  int  `yaml:"min_content_length"`
		MaxContentLength  int  `yaml:"max_content_length"`
		SpeechTimeout     int  `yaml:"speech_timeout"`     // seconds per model call
		InactivityTimeout int  `yaml:"inactivity_timeout"` // seconds before an idle session is evicted
		DisableAutosave   bool `yaml:"disable_autosave"`
	} `yaml:"debate"`
}

// APIKeyEnvVars are checked in order; the first non-empty one wins over the file.
var APIKeyEnvVars = []string{"GEMINI_API_KEY", "GOOGLE_API_KEY", "OPENAI_API_KEY", "CHATGPT_API_KEY"}

// LoadConfig loads configuration from a YAML file. A missing file is not an
// error; defaults and environment variables are used instead. A .env file in
// the working directory is loaded first when present.
func LoadConfig(configPath string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	var config Config
	data, err := os.ReadFile(configPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	config.applyDefaults()
	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var config Config
	config.applyDefaults()
	return &config
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8081
	}
	if c.Database.Path == "" {
		c.Database.Path = "./debate_history.db"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = llm.ProviderGemini
	}
	if c.LLM.APIURL == "" && c.LLM.Provider == llm.ProviderOpenAI {
		c.LLM.APIURL = "https://api.openai.com/v1/chat/completions"
	}
	if c.LLM.Model == "" {
		switch c.LLM.Provider {
		case llm.ProviderOpenAI:
			c.LLM.Model = "gpt-4o"
		default:
			c.LLM.Model = "gemini-2.5-flash"
		}
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = 60
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.8
	}
	if c.Judge.MaxTokens == 0 {
		c.Judge.MaxTokens = 4096
	}
	if c.Judge.Temperature == 0 {
		c.Judge.Temperature = 0.3
	}
	if c.Debate.MaxTurns == 0 {
		c.Debate.MaxTurns = 10
	}
	if c.Debate.MinContentLength == 0 {
		c.Debate.MinContentLength = 1
	}
	if c.Debate.MaxContentLength == 0 {
		c.Debate.MaxContentLength = 4000
	}
	if c.Debate.SpeechTimeout == 0 {
		c.Debate.SpeechTimeout = 120
	}
	if c.Debate.InactivityTimeout == 0 {
		c.Debate.InactivityTimeout = 1800 // 30 minutes
	}
}

func (c *Config) applyEnv() {
	for _, name := range APIKeyEnvVars {
		if key := os.Getenv(name); key != "" {
			c.LLM.APIKey = key
			return
		}
	}
}

func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case llm.ProviderGemini, llm.ProviderOpenAI:
	default:
		return fmt.Errorf("%w: %q", llm.ErrUnknownProvider, c.LLM.Provider)
	}
	if c.Debate.MinContentLength > c.Debate.MaxContentLength {
		return fmt.Errorf("debate.min_content_length (%d) exceeds max_content_length (%d)",
			c.Debate.MinContentLength, c.Debate.MaxContentLength)
	}
	if c.Debate.MaxTurns < 0 {
		return fmt.Errorf("debate.max_turns must not be negative")
	}
	if c.Debate.SpeechTimeout < 0 || c.Debate.InactivityTimeout < 0 {
		return fmt.Errorf("debate timeouts must not be negative")
	}
	return nil
}

// LLMOptions converts the llm section for the provider factory.
func (c *Config) LLMOptions() llm.Options {
	return llm.Options{
		Provider:    c.LLM.Provider,
		APIURL:      c.LLM.APIURL,
		Model:       c.LLM.Model,
		Timeout:     time.Duration(c.LLM.Timeout) * time.Second,
		MaxTokens:   c.LLM.MaxTokens,
		Temperature: c.LLM.Temperature,
	}
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
