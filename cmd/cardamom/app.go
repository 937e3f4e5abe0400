package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/cardamom-hq/cardamom/internal/bayes"
	"github.com/cardamom-hq/cardamom/internal/budget"
	"github.com/cardamom-hq/cardamom/internal/cache"
	"github.com/cardamom-hq/cardamom/internal/common"
	"github.com/cardamom-hq/cardamom/internal/engine"
	"github.com/cardamom-hq/cardamom/internal/feature"
	"github.com/cardamom-hq/cardamom/internal/learning"
	"github.com/cardamom-hq/cardamom/internal/model"
	"github.com/cardamom-hq/cardamom/internal/remote"
	"github.com/cardamom-hq/cardamom/internal/service"
	"github.com/cardamom-hq/cardamom/internal/similarity"
	"github.com/cardamom-hq/cardamom/internal/storage"
)

// app bundles everything a command needs, with one close path.
type app struct {
	storage  service.Storage
	engine   *engine.Engine
	pipeline *learning.Pipeline
	guard    *budget.Guard
	bayes    *bayes.Classifier
	logger   *slog.Logger
}

func databasePath() (string, error) {
	if path := viper.GetString("database.path"); path != "" {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "cardamom", "cardamom.db"), nil
}

func openStorage(ctx context.Context) (*storage.SQLiteStorage, error) {
	dbPath, err := databasePath()
	if err != nil {
		return nil, err
	}
	if mkErr := os.MkdirAll(filepath.Dir(dbPath), 0o755); mkErr != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", mkErr)
	}

	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return store, nil
}

// configuredCategories reads the category catalog from config, falling
// back to a general-purpose default set.
func configuredCategories() []model.Category {
	var configured []model.Category
	if err := viper.UnmarshalKey("categories", &configured); err == nil && len(configured) > 0 {
		return configured
	}

	return []model.Category{
		{ID: 1, Name: "Groceries"},
		{ID: 2, Name: "Dining"},
		{ID: 3, Name: "Transport"},
		{ID: 4, Name: "Shopping"},
		{ID: 5, Name: "Entertainment"},
		{ID: 6, Name: "Utilities"},
		{ID: 7, Name: "Health"},
		{ID: 8, Name: "Travel"},
		{ID: 9, Name: "Income"},
		{ID: 10, Name: "Other"},
	}
}

func budgetLimits() budget.Limits {
	limits := budget.Limits{
		DailyCapCents:   viper.GetInt64("budget.daily_cap_cents"),
		MonthlyCapCents: viper.GetInt64("budget.monthly_cap_cents"),
	}
	if limits.DailyCapCents == 0 {
		limits.DailyCapCents = 500 // $5/day
	}
	if limits.MonthlyCapCents == 0 {
		limits.MonthlyCapCents = 10000 // $100/month
	}
	return limits
}

// newApp wires storage, the classifier stack, and the engine from config.
func newApp(ctx context.Context) (*app, error) {
	logger := slog.Default()

	store, err := openStorage(ctx)
	if err != nil {
		return nil, err
	}

	classifier := bayes.NewClassifier(logger)
	if record, loadErr := store.GetActiveClassifierModel(ctx); loadErr == nil {
		m, decodeErr := bayes.Decode(record.Blob)
		if decodeErr != nil {
			logger.Warn("stored classifier model is unreadable, starting untrained", "error", decodeErr)
		} else {
			classifier.Publish(m)
		}
	} else if !errors.Is(loadErr, common.ErrNotFound) {
		_ = store.Close()
		return nil, fmt.Errorf("failed to load classifier model: %w", loadErr)
	}

	guard, err := budget.NewGuard(ctx, store, budgetLimits(), logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize budget guard: %w", err)
	}

	var remoteClassifier *remote.Classifier
	if apiKey := viper.GetString("remote.api_key"); apiKey != "" {
		remoteClassifier, err = remote.NewClassifier(remote.Config{
			Provider:      viper.GetString("remote.provider"),
			APIKey:        apiKey,
			Temperature:   viper.GetFloat64("remote.temperature"),
			MaxTokens:     viper.GetInt("remote.max_tokens"),
			Timeout:       viper.GetDuration("remote.timeout"),
			RateLimit:     viper.GetInt("remote.rate_limit"),
			MaxConcurrent: viper.GetInt64("remote.max_concurrent"),
		}, guard, logger)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to initialize remote classifier: %w", err)
		}
	} else {
		logger.Info("no remote API key configured, running with local layers only")
	}

	embedder := feature.NewHashingEmbedder(viper.GetInt("similarity.dimensions"))
	index := similarity.NewIndex(logger)
	if err := seedSimilarityIndex(ctx, store, embedder, index); err != nil {
		logger.Warn("failed to seed similarity index", "error", err)
	}

	pipeline := learning.NewPipeline(store, classifier, index, embedder, logger)

	cfg := engine.DefaultConfig()
	if v := viper.GetFloat64("thresholds.similarity"); v > 0 {
		cfg.Thresholds.Similarity = v
	}
	if v := viper.GetFloat64("thresholds.statistical"); v > 0 {
		cfg.Thresholds.Statistical = v
	}

	opts := engine.Options{
		Storage:    store,
		Cache:      cache.New(store, logger),
		Index:      index,
		Classifier: classifier,
		Guard:      guard,
		Embedder:   embedder,
		Pipeline:   pipeline,
		Logger:     logger,
		Categories: configuredCategories(),
		Config:     cfg,
	}
	if remoteClassifier != nil {
		opts.Remote = remoteClassifier
	}
	eng, err := engine.New(opts)
	if err != nil {
		pipeline.Close()
		_ = store.Close()
		return nil, err
	}

	return &app{
		storage:  store,
		engine:   eng,
		pipeline: pipeline,
		guard:    guard,
		bayes:    classifier,
		logger:   logger,
	}, nil
}

// seedSimilarityIndex re-embeds stored training samples so the similarity
// layer has labeled neighbors from the first request.
func seedSimilarityIndex(ctx context.Context, store service.Storage, embedder feature.Embedder, index *similarity.Index) error {
	samples, err := store.GetTrainingSamples(ctx, 5000)
	if err != nil {
		return err
	}
	for _, s := range samples {
		text := embeddingTextFromFeatures(s.Features)
		if text == "" {
			continue
		}
		vector, embedErr := embedder.Embed(ctx, text)
		if embedErr != nil {
			return embedErr
		}
		index.Add(vector, s.CategoryID)
	}
	return nil
}

// embeddingTextFromFeatures reconstructs an approximate embedding text from
// a stored feature map's word features. Training samples keep features, not
// raw records; word features preserve enough signal for neighbor votes.
func embeddingTextFromFeatures(features feature.Map) string {
	text := ""
	for name := range features {
		if len(name) > 5 && name[:5] == "word_" {
			if text != "" {
				text += " "
			}
			text += name[5:]
		}
	}
	return text
}

func (a *app) Close() {
	if err := a.engine.Close(); err != nil {
		a.logger.Warn("engine shutdown reported an error", "error", err)
	}
	if err := a.storage.Close(); err != nil {
		a.logger.Warn("failed to close database", "error", err)
	}
}

// parseTransactionFlags builds a transaction from the shared command flags.
func parseTransactionFlags(id, date, merchant, description string, amountCents int64, currency, bank string) (model.Transaction, error) {
	when := time.Now()
	if date != "" {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return model.Transaction{}, fmt.Errorf("invalid --date (want YYYY-MM-DD): %w", err)
		}
		when = parsed
	}
	if currency == "" {
		currency = "USD"
	}

	return model.Transaction{
		ID:           id,
		Date:         when,
		MerchantName: merchant,
		Description:  description,
		AmountCents:  amountCents,
		Currency:     currency,
		BankName:     bank,
	}, nil
}
