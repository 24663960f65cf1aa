package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all recall configuration. Defaults are usable as-is; a YAML
// file and a handful of env vars override them.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	LLM      LLMConfig      `yaml:"llm"`
	Search   SearchConfig   `yaml:"search"`
	Cache    CacheConfig    `yaml:"cache"`
	Graph    GraphConfig    `yaml:"graph"`
	Session  SessionConfig  `yaml:"session"`
}

type ServerConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LLMConfig struct {
	Provider       string `yaml:"provider"` // "anthropic", "ollama"
	Model          string `yaml:"model"`
	OllamaURL      string `yaml:"ollama_url"`
	OllamaModel    string `yaml:"ollama_model"`
	EmbeddingModel string `yaml:"embedding_model"`
	AnthropicKey   string `yaml:"anthropic_key"`
}

// SearchConfig controls fusion, reranking, and context expansion.
type SearchConfig struct {
	RRFConstant    float64  `yaml:"rrf_constant"`    // C in 1/(rank+C)
	LexicalBoost   float64  `yaml:"lexical_boost"`   // weight multiplier for keyword-heavy queries
	SemanticBoost  float64  `yaml:"semantic_boost"`  // weight multiplier for descriptive queries
	ExpandRadius   int      `yaml:"expand_radius"`   // sibling ordinal radius
	MergeSpans     bool     `yaml:"merge_spans"`     // adjacency-merge vs fixed-radius expansion
	SubTimeout     Duration `yaml:"sub_timeout"`     // per sub-index deadline
	RerankTimeout  Duration `yaml:"rerank_timeout"`
	OverallTimeout Duration `yaml:"overall_timeout"` // whole-pipeline deadline
}

// CacheConfig holds the semantic cache tier thresholds. Bands are inclusive
// on the low side: sim >= Exact is an exact hit, [Near, Exact) a near hit,
// [Suggest, Near) a suggestion, below Suggest a miss.
type CacheConfig struct {
	Exact    float64  `yaml:"exact_threshold"`
	Near     float64  `yaml:"near_threshold"`
	Suggest  float64  `yaml:"suggest_threshold"`
	TTL      Duration `yaml:"ttl"`
	MaxItems int64    `yaml:"max_items"`
}

type GraphConfig struct {
	MergeThreshold         float64  `yaml:"merge_threshold"`         // node upsert reinforcement
	ContradictionThreshold float64  `yaml:"contradiction_threshold"` // candidate similarity floor
	StaleAfter             Duration `yaml:"stale_after"`             // decay eligibility
	DecayRate              float64  `yaml:"decay_rate"`              // confidence subtracted per pass
	MaxNodes               int      `yaml:"max_nodes"`               // query seed cap
	MaxHops                int      `yaml:"max_hops"`
	SimilarityThreshold    float64  `yaml:"similarity_threshold"` // query seed floor
}

type SessionConfig struct {
	MaxTurns      int `yaml:"max_turns"`      // live window size before folding
	FoldBlock     int `yaml:"fold_block"`     // oldest turns folded per overflow
	ContextTokens int `yaml:"context_tokens"` // default GetContext budget
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37710,
		},
		Database: DatabaseConfig{
			Path: "", // resolved at runtime via store.DefaultDBPath()
		},
		LLM: LLMConfig{
			Provider:       "ollama",
			OllamaURL:      "http://localhost:11434",
			OllamaModel:    "llama3.2",
			EmbeddingModel: "nomic-embed-text",
		},
		Search: SearchConfig{
			RRFConstant:    60,
			LexicalBoost:   1.5,
			SemanticBoost:  1.25,
			ExpandRadius:   2,
			MergeSpans:     true,
			SubTimeout:     Duration(2 * time.Second),
			RerankTimeout:  Duration(3 * time.Second),
			OverallTimeout: Duration(15 * time.Second),
		},
		Cache: CacheConfig{
			Exact:    0.98,
			Near:     0.93,
			Suggest:  0.88,
			TTL:      Duration(time.Hour),
			MaxItems: 10000,
		},
		Graph: GraphConfig{
			MergeThreshold:         0.85,
			ContradictionThreshold: 0.85,
			StaleAfter:             Duration(30 * 24 * time.Hour),
			DecayRate:              0.1,
			MaxNodes:               10,
			MaxHops:                2,
			SimilarityThreshold:    0.6,
		},
		Session: SessionConfig{
			MaxTurns:      40,
			FoldBlock:     5,
			ContextTokens: 2000,
		},
	}
}

// Load reads YAML from path over the defaults. A missing file is not an
// error — defaults plus env overrides apply.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		c.LLM.Provider = "anthropic"
		c.LLM.AnthropicKey = key
	}
	if url := os.Getenv("RECALL_OLLAMA_URL"); url != "" {
		c.LLM.OllamaURL = url
	}
	if path := os.Getenv("RECALL_DB_PATH"); path != "" {
		c.Database.Path = path
	}
}

func (c *Config) validate() error {
	if c.Cache.Exact < c.Cache.Near || c.Cache.Near < c.Cache.Suggest {
		return fmt.Errorf("cache thresholds must satisfy exact >= near >= suggest, got %.2f/%.2f/%.2f",
			c.Cache.Exact, c.Cache.Near, c.Cache.Suggest)
	}
	if c.Search.RRFConstant <= 0 {
		return fmt.Errorf("rrf_constant must be positive, got %v", c.Search.RRFConstant)
	}
	if c.Session.FoldBlock <= 0 || c.Session.MaxTurns <= c.Session.FoldBlock {
		return fmt.Errorf("session window must exceed fold block, got max_turns=%d fold_block=%d",
			c.Session.MaxTurns, c.Session.FoldBlock)
	}
	return nil
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}
