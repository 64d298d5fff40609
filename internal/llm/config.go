package llm

import (
	"fmt"
	"time"
)

// Config holds the configuration for the chat completion client.
// Any OpenAI-compatible endpoint works (OpenRouter, OpenAI, local servers).
//
// Loaded from the `llm` config section or env:
// - LLM_API_KEY: API key (required)
// - LLM_API_URL: endpoint base URL (default: https://openrouter.ai/api/v1)
// - LLM_MODEL: model name
// - LLM_MAX_TOKENS, LLM_TEMPERATURE, LLM_TIMEOUT
// - LLM_SITE_URL, LLM_APP_NAME: optional attribution headers
type Config struct {
	APIKey      string        `mapstructure:"api_key"`
	APIURL      string        `mapstructure:"api_url"`
	Model       string        `mapstructure:"model"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
	SiteURL     string        `mapstructure:"site_url"`
	AppName     string        `mapstructure:"app_name"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("API key is required")
	}
	if c.APIURL == "" {
		return fmt.Errorf("API URL is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.MaxTokens < 1 {
		return fmt.Errorf("max tokens must be greater than 0")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be greater than 0")
	}
	return nil
}

// Headers returns the headers sent with every request.
func (c *Config) Headers() map[string]string {
	headers := map[string]string{
		"Authorization": "Bearer " + c.APIKey,
		"Content-Type":  "application/json",
	}

	if c.SiteURL != "" {
		headers["HTTP-Referer"] = c.SiteURL
	}
	if c.AppName != "" {
		headers["X-Title"] = c.AppName
	}

	return headers
}
