package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/cardamom-hq/cardamom/internal/common"
	"github.com/cardamom-hq/cardamom/internal/model"
)

func correctCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "correct",
		Short: "Correct a previous classification",
		Long: `Record the right category for a transaction the engine got wrong
(or confirm one it got right). Corrections feed the learning pipeline:
the statistical model updates immediately and recurring mistakes become
correction rules.`,
		RunE: runCorrect,
	}

	cmd.Flags().String("id", "", "transaction ID of the original decision (required)")
	cmd.Flags().String("category", "", "correct category, by name or ID (required)")
	cmd.Flags().String("date", "", "transaction date (YYYY-MM-DD)")
	cmd.Flags().String("merchant", "", "merchant name")
	cmd.Flags().String("description", "", "transaction description")
	cmd.Flags().Int64("amount-cents", 0, "amount in cents")
	cmd.Flags().String("currency", "USD", "ISO currency code")
	cmd.Flags().String("bank", "", "bank name")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("category")

	return cmd
}

func runCorrect(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	id, _ := cmd.Flags().GetString("id")
	categoryArg, _ := cmd.Flags().GetString("category")

	categories := configuredCategories()
	actual, err := resolveCategory(categories, categoryArg)
	if err != nil {
		return err
	}

	decision, err := a.storage.GetDecisionByTransactionID(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return common.NewUserError(
				fmt.Sprintf("no decision recorded for transaction %q; classify it first", id), err)
		}
		return fmt.Errorf("failed to look up decision: %w", err)
	}

	date, _ := cmd.Flags().GetString("date")
	merchant, _ := cmd.Flags().GetString("merchant")
	description, _ := cmd.Flags().GetString("description")
	amountCents, _ := cmd.Flags().GetInt64("amount-cents")
	currency, _ := cmd.Flags().GetString("currency")
	bank, _ := cmd.Flags().GetString("bank")
	if merchant == "" {
		merchant = decision.MerchantName
	}

	txn, err := parseTransactionFlags(id, date, merchant, description, amountCents, currency, bank)
	if err != nil {
		return err
	}

	if err := a.engine.SubmitCorrection(txn, decision.CategoryID, actual.ID); err != nil {
		return fmt.Errorf("failed to submit correction: %w", err)
	}

	if decision.CategoryID == actual.ID {
		fmt.Printf("Confirmed: %s was already categorized as %s.\n", id, actual.Name)
	} else {
		predicted := "unresolved"
		if c := model.CategoryByID(categories, decision.CategoryID); c != nil {
			predicted = c.Name
		}
		fmt.Printf("Corrected: %s  %s -> %s\n", id, predicted, actual.Name)
	}

	// app.Close drains the pipeline, so the correction is fully applied
	// before the process exits.
	return nil
}

func resolveCategory(categories []model.Category, arg string) (*model.Category, error) {
	if id, err := strconv.Atoi(arg); err == nil {
		if c := model.CategoryByID(categories, id); c != nil {
			return c, nil
		}
		return nil, fmt.Errorf("unknown category ID %d", id)
	}
	if c := model.CategoryByName(categories, arg); c != nil {
		return c, nil
	}
	return nil, fmt.Errorf("unknown category %q", arg)
}
