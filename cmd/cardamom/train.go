package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cardamom-hq/cardamom/internal/bayes"
	"github.com/cardamom-hq/cardamom/internal/service"
)

func trainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the statistical classifier from stored samples",
		Long: `Run a cross-validated grid search over the smoothing parameter,
train a candidate model on all stored training samples, and activate it
when it beats the current model's held-out F1. The trained version is
persisted and reloaded on the next start.`,
		RunE: runTrain,
	}

	cmd.Flags().Int("folds", bayes.DefaultFolds, "cross-validation folds")
	cmd.Flags().Int("limit", 10000, "maximum training samples to load")

	return cmd
}

func runTrain(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	folds, _ := cmd.Flags().GetInt("folds")
	limit, _ := cmd.Flags().GetInt("limit")

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	stored, err := a.storage.GetTrainingSamples(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to load training samples: %w", err)
	}
	if len(stored) < folds {
		return fmt.Errorf("not enough training samples: have %d, need at least %d", len(stored), folds)
	}

	samples := make([]bayes.Sample, len(stored))
	for i, s := range stored {
		samples[i] = bayes.Sample{Features: s.Features, CategoryID: s.CategoryID}
	}

	fmt.Printf("Training on %d samples (%d-fold cross-validation)...\n", len(samples), folds)
	start := time.Now()

	candidate, activated := a.bayes.TrainAndEvaluate(samples, bayes.DefaultAlphaGrid, folds)

	fmt.Printf("Done in %s\n", time.Since(start).Round(time.Millisecond))
	fmt.Printf("  alpha:    %.3f\n", candidate.Alpha)
	fmt.Printf("  accuracy: %.3f\n", candidate.Metrics.Accuracy)
	fmt.Printf("  f1:       %.3f\n", candidate.Metrics.F1)

	blob, err := bayes.Encode(candidate)
	if err != nil {
		return fmt.Errorf("failed to serialize model: %w", err)
	}
	record := &service.ClassifierModelRecord{
		Blob:      blob,
		Accuracy:  candidate.Metrics.Accuracy,
		F1:        candidate.Metrics.F1,
		IsActive:  activated,
		CreatedAt: time.Now(),
	}
	if err := a.storage.SaveClassifierModel(ctx, record); err != nil {
		return fmt.Errorf("failed to persist model: %w", err)
	}

	if activated {
		fmt.Println("Candidate activated: it beats the previous model's held-out F1.")
	} else {
		fmt.Println("Candidate saved but NOT activated: the current model's F1 is at least as good.")
	}
	return nil
}
