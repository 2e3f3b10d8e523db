package config

import (
	"fmt"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// AnthropicConfig holds credentials for the Anthropic provider.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key,omitempty"`
	Model  string `yaml:"model,omitempty"`
}

// OpenAIConfig holds credentials for the OpenAI provider.
type OpenAIConfig struct {
	APIKey       string `yaml:"api_key,omitempty"`
	BaseURL      string `yaml:"base_url,omitempty"`
	Model        string `yaml:"model,omitempty"`
	Organization string `yaml:"organization,omitempty"`
}

// OllamaConfig holds connection settings for a local Ollama instance.
type OllamaConfig struct {
	Host  string `yaml:"host,omitempty"`
	Model string `yaml:"model,omitempty"`
}

// RetrievalConfig tunes the hybrid retrieval pipeline.
type RetrievalConfig struct {
	// SimilarityThreshold drops candidates whose vector distance exceeds it.
	SimilarityThreshold float64 `yaml:"similarity_threshold,omitempty"`
	// KeywordWeight is the RRF weight of the lexical signal; the vector
	// signal gets 1-KeywordWeight.
	KeywordWeight      float64 `yaml:"keyword_weight,omitempty"`
	EnableKeywordBoost *bool   `yaml:"enable_keyword_boost,omitempty"`
	// UseLegacyScorer selects the substring-based scorer kept for backward
	// compatibility with pre-ngram installations.
	UseLegacyScorer    bool  `yaml:"use_legacy_scorer,omitempty"`
	NgramMin           int   `yaml:"ngram_min,omitempty"`
	NgramMax           int   `yaml:"ngram_max,omitempty"`
	ContextWindow      int   `yaml:"context_window,omitempty"`
	EnableContextHint  *bool `yaml:"enable_context_hint,omitempty"`
	ReinforceBonus     int   `yaml:"reinforce_bonus,omitempty"`
	ShowRelevanceScore *bool `yaml:"show_relevance_score,omitempty"`
	DefaultLimit       int   `yaml:"default_limit,omitempty"`
}

// ArchiveConfig tunes the summarization and folding jobs.
type ArchiveConfig struct {
	// PrivateTimeoutSecs is how long a conversation must be idle before its
	// unarchived messages are folded into a dated summary.
	PrivateTimeoutSecs  int      `yaml:"private_timeout_secs,omitempty"`
	MinMessageCount     int      `yaml:"min_message_count,omitempty"`
	MaxHistoryDays      int      `yaml:"max_history_days,omitempty"`
	CommandPrefixes     []string `yaml:"command_prefixes,omitempty"`
	EnableCommandFilter *bool    `yaml:"enable_command_filter,omitempty"`
	SummarizePrompt     string   `yaml:"summarize_prompt,omitempty"`
	FoldingMinSamples   int      `yaml:"folding_min_samples,omitempty"`
	FoldingPrompt       string   `yaml:"folding_prompt,omitempty"`
	DecayRate           int      `yaml:"decay_rate,omitempty"`
	PruneThreshold      int      `yaml:"prune_threshold,omitempty"`
	AIName              string   `yaml:"ai_name,omitempty"`
}

// ProfileConfig tunes the daily profile update and its guardian.
type ProfileConfig struct {
	MinUpdateMemories        int    `yaml:"min_update_memories,omitempty"`
	UpdatePrompt             string `yaml:"update_prompt,omitempty"`
	Model                    string `yaml:"model,omitempty"`
	EnableConfidence         *bool  `yaml:"enable_confidence,omitempty"`
	ConfidenceThreshold      int    `yaml:"confidence_threshold,omitempty"`
	EnableConflictDetection  *bool  `yaml:"enable_conflict_detection,omitempty"`
	EnableEvidenceProtection *bool  `yaml:"enable_evidence_protection,omitempty"`
}

// IntentConfig tunes the retrieval intent gate.
type IntentConfig struct {
	Mode           string `yaml:"mode,omitempty"` // disabled | keyword | llm
	MinLength      int    `yaml:"min_length,omitempty"`
	ScoreThreshold int    `yaml:"score_threshold,omitempty"`
	Model          string `yaml:"model,omitempty"`
}

// Config is the full daemon configuration.
type Config struct {
	DataDir   string          `yaml:"data_dir,omitempty"`
	LogFile   string          `yaml:"log_file,omitempty"`
	Anthropic AnthropicConfig `yaml:"anthropic,omitempty"`
	OpenAI    OpenAIConfig    `yaml:"openai,omitempty"`
	Ollama    OllamaConfig    `yaml:"ollama,omitempty"`
	Retrieval RetrievalConfig `yaml:"retrieval,omitempty"`
	Archive   ArchiveConfig   `yaml:"archive,omitempty"`
	Profile   ProfileConfig   `yaml:"profile,omitempty"`
	Intent    IntentConfig    `yaml:"intent,omitempty"`
}

func boolPtr(b bool) *bool { return &b }

// Default returns the configuration applied when a field is absent from the
// config file.
func Default() Config {
	return Config{
		DataDir: "data",
		LogFile: "engramd.log",
		Retrieval: RetrievalConfig{
			SimilarityThreshold: 1.5,
			KeywordWeight:       0.5,
			EnableKeywordBoost:  boolPtr(true),
			NgramMin:            2,
			NgramMax:            4,
			ContextWindow:       1,
			EnableContextHint:   boolPtr(true),
			ReinforceBonus:      20,
			ShowRelevanceScore:  boolPtr(true),
			DefaultLimit:        3,
		},
		Archive: ArchiveConfig{
			PrivateTimeoutSecs:  1800,
			MinMessageCount:     3,
			MaxHistoryDays:      0,
			CommandPrefixes:     []string{"/", "!", "#", "~"},
			EnableCommandFilter: boolPtr(true),
			FoldingMinSamples:   3,
			DecayRate:           1,
			PruneThreshold:      0,
			AIName:              "assistant",
		},
		Profile: ProfileConfig{
			MinUpdateMemories:        3,
			ConfidenceThreshold:      2,
			EnableConfidence:         boolPtr(true),
			EnableConflictDetection:  boolPtr(true),
			EnableEvidenceProtection: boolPtr(true),
		},
		Intent: IntentConfig{
			Mode:           "keyword",
			MinLength:      4,
			ScoreThreshold: 2,
		},
	}
}

// Load reads the YAML config at path, merges defaults for absent fields, and
// clamps numeric ranges. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path) //nolint:gosec // G304: user-specified config path
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// fall through to defaults
	default:
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	defaults := Default()
	if err := mergo.Merge(&cfg, defaults); err != nil {
		return Config{}, fmt.Errorf("merge config defaults: %w", err)
	}

	cfg.clamp()
	return cfg, nil
}

// clamp validates numeric ranges once at load time so callers never have to.
func (c *Config) clamp() {
	if c.Retrieval.NgramMin < 2 {
		c.Retrieval.NgramMin = 2
	}
	if c.Retrieval.NgramMax < c.Retrieval.NgramMin {
		c.Retrieval.NgramMax = c.Retrieval.NgramMin
	}
	// Upper bound keeps extreme settings from exploding the n-gram set.
	if c.Retrieval.NgramMax > 6 {
		c.Retrieval.NgramMax = 6
	}
	if c.Retrieval.KeywordWeight < 0 {
		c.Retrieval.KeywordWeight = 0
	}
	if c.Retrieval.KeywordWeight > 1 {
		c.Retrieval.KeywordWeight = 1
	}
	if c.Retrieval.ContextWindow < 0 {
		c.Retrieval.ContextWindow = 0
	}
	if c.Retrieval.ContextWindow > 5 {
		c.Retrieval.ContextWindow = 5
	}
	if c.Retrieval.SimilarityThreshold <= 0 {
		c.Retrieval.SimilarityThreshold = 1.5
	}
	if c.Retrieval.DefaultLimit <= 0 {
		c.Retrieval.DefaultLimit = 3
	}
	if c.Profile.ConfidenceThreshold < 1 {
		c.Profile.ConfidenceThreshold = 1
	}
	if c.Intent.MinLength < 1 {
		c.Intent.MinLength = 1
	}
	if c.Intent.ScoreThreshold < 1 {
		c.Intent.ScoreThreshold = 1
	}
	switch c.Intent.Mode {
	case "disabled", "keyword", "llm":
	default:
		c.Intent.Mode = "keyword"
	}
}
