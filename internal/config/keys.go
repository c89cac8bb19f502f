package config

import "os"

// APIKeySource represents where an API key comes from.
type APIKeySource string

const (
	KeySourceEnv    APIKeySource = "env"
	KeySourceConfig APIKeySource = "config"
	KeySourceNone   APIKeySource = "none"
)

// KeyStatus represents the status of an API key.
type KeyStatus struct {
	Name   string       `json:"name"`
	Source APIKeySource `json:"source"`
	IsSet  bool         `json:"is_set"`
	Masked string       `json:"masked,omitempty"` // e.g., "sk-...abc"
}

// CheckAPIKeys returns the status of the analysis provider keys.
func CheckAPIKeys(cfg *Config) []KeyStatus {
	return []KeyStatus{
		checkKey("DeepSeek API Key", cfg.LLM.DeepSeekKey, EnvPrefix+"_LLM_DEEPSEEK_KEY", "DEEPSEEK_API_KEY"),
		checkKey("OpenAI API Key", cfg.LLM.OpenAIKey, EnvPrefix+"_LLM_OPENAI_KEY", "OPENAI_API_KEY"),
	}
}

// checkKey checks if a key is set and where it came from.
func checkKey(name, value string, envVars ...string) KeyStatus {
	status := KeyStatus{
		Name:   name,
		IsSet:  value != "",
		Source: KeySourceNone,
	}
	if value == "" {
		return status
	}

	status.Source = KeySourceConfig
	if firstEnv(envVars...) != "" {
		status.Source = KeySourceEnv
	}
	status.Masked = maskKey(value)
	return status
}

// maskKey masks an API key for display, showing only first 3 and last 3 chars.
func maskKey(key string) string {
	if len(key) <= 8 {
		return "***"
	}
	return key[:3] + "..." + key[len(key)-3:]
}

// ActiveKey returns the API key for the configured primary provider.
func (c *Config) ActiveKey() string {
	switch c.LLM.Primary {
	case "deepseek":
		return c.LLM.DeepSeekKey
	case "openai":
		return c.LLM.OpenAIKey
	}
	return ""
}

// unsetKeyEnv clears every key variable; used by tests.
func unsetKeyEnv() {
	for _, name := range []string{
		EnvPrefix + "_LLM_DEEPSEEK_KEY", "DEEPSEEK_API_KEY",
		EnvPrefix + "_LLM_OPENAI_KEY", "OPENAI_API_KEY",
	} {
		os.Unsetenv(name)
	}
}
