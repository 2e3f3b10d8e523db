package runtime

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/aschepis/engramd/config"
	"github.com/aschepis/engramd/llm"
	"github.com/aschepis/engramd/llm/anthropic"
	"github.com/aschepis/engramd/llm/ollama"
	"github.com/aschepis/engramd/llm/openai"
	"github.com/aschepis/engramd/memory"
	"github.com/aschepis/engramd/migrations"
	"github.com/aschepis/engramd/profile"
	"github.com/aschepis/engramd/vector"
)

const llmMaxRetries = 3

// App is the fully wired component graph. Both the daemon and the CLI build
// one; only the daemon starts the Scheduler.
type App struct {
	Service   *Service
	Scheduler *Scheduler
	Archiver  *memory.Archiver

	db *sql.DB
}

// NewApp opens storage, runs migrations, and wires every component from the
// configuration.
func NewApp(cfg config.Config, logger zerolog.Logger) (*App, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", cfg.DataDir, err)
	}

	db, err := sql.Open("sqlite3", filepath.Join(cfg.DataDir, "engramd.db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrations.Run(db, logger); err != nil {
		db.Close() //nolint:errcheck // no remedy for db close error
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	completer, embedder, err := buildProviders(cfg, logger)
	if err != nil {
		db.Close() //nolint:errcheck // no remedy for db close error
		return nil, err
	}

	index := vector.NewChromemIndex(filepath.Join(cfg.DataDir, "vectors"), embedder, logger)
	store := memory.NewStore(db, logger)

	tokenizer := memory.NewTokenizer(cfg.Retrieval.NgramMin, cfg.Retrieval.NgramMax)
	scorer := memory.NewScorer(tokenizer)
	ranker := memory.NewRanker(tokenizer, scorer, memory.RankerOptions{
		SimilarityThreshold: cfg.Retrieval.SimilarityThreshold,
		KeywordWeight:       cfg.Retrieval.KeywordWeight,
		EnableKeywordBoost:  *cfg.Retrieval.EnableKeywordBoost,
		UseLegacyScorer:     cfg.Retrieval.UseLegacyScorer,
	}, logger)
	filter := memory.NewContentFilter(cfg.Archive.CommandPrefixes, *cfg.Archive.EnableCommandFilter)

	retriever := memory.NewRetriever(store, index, ranker, filter, memory.RetrieverOptions{
		ContextWindow:      cfg.Retrieval.ContextWindow,
		EnableContextHint:  *cfg.Retrieval.EnableContextHint,
		ReinforceBonus:     cfg.Retrieval.ReinforceBonus,
		ShowRelevanceScore: *cfg.Retrieval.ShowRelevanceScore,
		DefaultLimit:       cfg.Retrieval.DefaultLimit,
	}, logger)

	archiver := memory.NewArchiver(store, index, completer, filter, memory.ArchiverOptions{
		MaxHistoryDays:  cfg.Archive.MaxHistoryDays,
		SummarizePrompt: cfg.Archive.SummarizePrompt,
		AIName:          cfg.Archive.AIName,
	}, logger)
	folder := memory.NewFolder(store, index, completer, memory.FolderOptions{
		MinSamples:    cfg.Archive.FoldingMinSamples,
		FoldingPrompt: cfg.Archive.FoldingPrompt,
	}, logger)
	decayer := memory.NewDecayer(store, index, memory.DecayOptions{
		Rate:           cfg.Archive.DecayRate,
		PruneThreshold: cfg.Archive.PruneThreshold,
	}, logger)
	deleter := memory.NewDeleter(store, index, logger)
	exporter := memory.NewExporter(store, filter, logger)
	intent := memory.NewIntentGate(memory.IntentGateOptions{
		Mode:           memory.IntentMode(cfg.Intent.Mode),
		MinLength:      cfg.Intent.MinLength,
		ScoreThreshold: cfg.Intent.ScoreThreshold,
		LLMModel:       cfg.Intent.Model,
	}, completer, logger)
	tracker := memory.NewActivityTracker()

	profileStore, err := profile.NewStore(cfg.DataDir, logger)
	if err != nil {
		db.Close() //nolint:errcheck // no remedy for db close error
		return nil, err
	}
	guardian := profile.NewGuardian(profile.GuardianOptions{
		EnableConfidence:         *cfg.Profile.EnableConfidence,
		ConfidenceThreshold:      cfg.Profile.ConfidenceThreshold,
		EnableConflictDetection:  *cfg.Profile.EnableConflictDetection,
		EnableEvidenceProtection: *cfg.Profile.EnableEvidenceProtection,
	}, logger)
	profiles := profile.NewManager(profileStore, guardian, store, completer, profile.ManagerOptions{
		MinUpdateMemories: cfg.Profile.MinUpdateMemories,
		UpdatePrompt:      cfg.Profile.UpdatePrompt,
		Model:             cfg.Profile.Model,
	}, logger)

	service := NewService(store, index, filter, retriever, deleter, exporter, intent, tracker, profiles, logger)
	scheduler := NewScheduler(tracker, archiver, folder, decayer, profiles, store, SchedulerOptions{
		ArchiveTimeout:  time.Duration(cfg.Archive.PrivateTimeoutSecs) * time.Second,
		ArchiveMinCount: cfg.Archive.MinMessageCount,
	}, logger)

	return &App{
		Service:   service,
		Scheduler: scheduler,
		Archiver:  archiver,
		db:        db,
	}, nil
}

// Close releases the database handle.
func (a *App) Close() error {
	return a.db.Close()
}

// buildProviders picks the completion client and the embedder from whichever
// providers are configured. Anthropic is preferred for completions, OpenAI
// for embeddings; Ollama backs whatever remains.
func buildProviders(cfg config.Config, logger zerolog.Logger) (llm.Client, vector.Embedder, error) {
	var ollamaClient *ollama.OllamaClient
	newOllama := func() (*ollama.OllamaClient, error) {
		if ollamaClient != nil {
			return ollamaClient, nil
		}
		c, err := ollama.NewOllamaClient(cfg.Ollama.Host, cfg.Ollama.Model)
		if err != nil {
			return nil, fmt.Errorf("create ollama client: %w", err)
		}
		ollamaClient = c
		return c, nil
	}

	var completer llm.Client
	switch {
	case cfg.Anthropic.APIKey != "":
		c, err := anthropic.NewAnthropicClient(cfg.Anthropic.APIKey, cfg.Anthropic.Model, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("create anthropic client: %w", err)
		}
		completer = c
	case cfg.OpenAI.APIKey != "":
		c, err := openai.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Model, cfg.OpenAI.Organization)
		if err != nil {
			return nil, nil, fmt.Errorf("create openai client: %w", err)
		}
		completer = c
	default:
		c, err := newOllama()
		if err != nil {
			return nil, nil, err
		}
		completer = c
	}
	completer = llm.WithRetry(completer, llmMaxRetries, logger)

	var embedder vector.Embedder
	if cfg.OpenAI.APIKey != "" {
		c, err := openai.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Model, cfg.OpenAI.Organization)
		if err != nil {
			return nil, nil, fmt.Errorf("create openai embedder: %w", err)
		}
		embedder = c
	} else {
		c, err := newOllama()
		if err != nil {
			return nil, nil, err
		}
		embedder = c
	}
	return completer, embedder, nil
}
