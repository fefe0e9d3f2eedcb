package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/MegaGrindStone/footballpedia/internal/handlers"
	"github.com/MegaGrindStone/footballpedia/internal/services"
	"gopkg.in/yaml.v3"
)

type llmConfig interface {
	llm(systemPrompt string, logger *slog.Logger) (handlers.LLM, error)
}

// BaseLLMConfig contains the common fields for all LLM configurations.
type BaseLLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

type config struct {
	Port         string         `yaml:"port"`
	SystemPrompt string         `yaml:"systemPrompt"`
	LLM          llmConfig      `yaml:"llm"`
	Endpoint     endpointConfig `yaml:"endpoint"`
	Store        storeConfig    `yaml:"store"`
	Log          logConfig      `yaml:"log"`
}

type openAIConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string                 `yaml:"apiKey"`
	BaseURL       string                 `yaml:"baseURL"`
	Parameters    services.LLMParameters `yaml:"parameters"`
}

type openRouterConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
}

type ollamaConfig struct {
	BaseLLMConfig `yaml:",inline"`
	Host          string `yaml:"host"`
}

type anthropicConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	MaxTokens     int    `yaml:"maxTokens"`
}

// endpointConfig points the chat clients at the inference endpoint. An empty URL targets the endpoint
// served by this process.
type endpointConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"apiKey"`
}

type storeConfig struct {
	// Driver is one of "bolt", "sqlite" or "local". The local driver keeps only the conversation list.
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

type logConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

const (
	defaultPort         = "8080"
	inferencePath       = "/functions/v1/football-chat"
	defaultSystemPrompt = "You are FootballPedia, an expert on football (soccer). Answer questions about " +
		"players, clubs, competitions, history, tactics and rules accurately and concisely. Use markdown " +
		"for lists and tables. If a question is not about football, politely steer the conversation back " +
		"to football."
)

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port         string         `yaml:"port"`
		SystemPrompt string         `yaml:"systemPrompt"`
		LLM          map[string]any `yaml:"llm"`
		Endpoint     endpointConfig `yaml:"endpoint"`
		Store        storeConfig    `yaml:"store"`
		Log          logConfig      `yaml:"log"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	c.Port = rawConfig.Port
	c.SystemPrompt = rawConfig.SystemPrompt
	c.Endpoint = rawConfig.Endpoint
	c.Store = rawConfig.Store
	c.Log = rawConfig.Log

	llmProvider, ok := rawConfig.LLM["provider"].(string)
	if !ok {
		return fmt.Errorf("llm provider is required")
	}

	llmRawYAML, err := yaml.Marshal(rawConfig.LLM)
	if err != nil {
		return err
	}

	var llm llmConfig
	switch llmProvider {
	case "openai":
		llm = &openAIConfig{}
	case "openrouter":
		llm = &openRouterConfig{}
	case "ollama":
		llm = &ollamaConfig{}
	case "anthropic":
		llm = &anthropicConfig{}
	default:
		return fmt.Errorf("unknown llm provider: %s", llmProvider)
	}

	if err := yaml.Unmarshal(llmRawYAML, llm); err != nil {
		return err
	}

	c.LLM = llm

	return nil
}

func loadConfig(path string) (config, error) {
	f, err := os.Open(path)
	if err != nil {
		return config{}, fmt.Errorf("error opening config file: %w", err)
	}
	defer f.Close()

	return decodeConfig(f)
}

func decodeConfig(r io.Reader) (config, error) {
	cfg := config{}
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil {
		return config{}, fmt.Errorf("error decoding config file: %w", err)
	}

	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}
	if cfg.Endpoint.URL == "" {
		cfg.Endpoint.URL = "http://localhost:" + cfg.Port + inferencePath
	}
	if cfg.Endpoint.APIKey == "" {
		cfg.Endpoint.APIKey = os.Getenv("FOOTBALLPEDIA_KEY")
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "bolt"
	}

	return cfg, nil
}

func (o openAIConfig) llm(systemPrompt string, logger *slog.Logger) (handlers.LLM, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	apiKey := o.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	return services.NewOpenAI(apiKey, o.BaseURL, o.Model, systemPrompt, o.Parameters, logger), nil
}

func (o openRouterConfig) llm(systemPrompt string, logger *slog.Logger) (handlers.LLM, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	apiKey := o.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENROUTER_API_KEY")
	}
	return services.NewOpenRouter(apiKey, o.Model, systemPrompt, logger), nil
}

func (o ollamaConfig) llm(systemPrompt string, logger *slog.Logger) (handlers.LLM, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	host := o.Host
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	return services.NewOllama(host, o.Model, systemPrompt, logger)
}

func (a anthropicConfig) llm(systemPrompt string, logger *slog.Logger) (handlers.LLM, error) {
	if a.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if a.MaxTokens == 0 {
		return nil, fmt.Errorf("maxTokens is required")
	}

	apiKey := a.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	return services.NewAnthropic(apiKey, a.Model, systemPrompt, a.MaxTokens, logger), nil
}

// open opens the configured store in dir. Both the Store and the Closer are nil for the local driver.
func (s storeConfig) open(dir string) (handlers.Store, io.Closer, error) {
	switch s.Driver {
	case "bolt":
		path := s.Path
		if path == "" {
			path = filepath.Join(dir, "store.db")
		}
		db, err := services.NewBoltDB(path)
		if err != nil {
			return nil, nil, err
		}
		return db, db, nil
	case "sqlite":
		path := s.Path
		if path == "" {
			path = filepath.Join(dir, "store.sqlite")
		}
		db, err := services.NewSQLite(path)
		if err != nil {
			return nil, nil, err
		}
		return db, db, nil
	case "local":
		return nil, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver: %s", s.Driver)
	}
}

func (l logConfig) logger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if l.Level != "" {
		if err := level.UnmarshalText([]byte(l.Level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", l.Level, err)
		}
	}

	opts := &slog.HandlerOptions{Level: level}
	switch l.Format {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format: %s", l.Format)
	}
}
