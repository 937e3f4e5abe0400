package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/cardamom-hq/cardamom/internal/model"
)

func classifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Classify a transaction, or a CSV batch of them",
		Long: `Classify a single transaction given via flags, or a whole CSV file
with --csv. The CSV needs a header row with the columns:
id,date,merchant,description,amount_cents,currency,bank`,
		RunE: runClassify,
	}

	cmd.Flags().String("csv", "", "CSV file to classify in batch")
	cmd.Flags().Int("workers", 4, "concurrent workers for batch classification")

	cmd.Flags().String("id", "", "transaction ID")
	cmd.Flags().String("date", "", "transaction date (YYYY-MM-DD, default today)")
	cmd.Flags().String("merchant", "", "merchant name")
	cmd.Flags().String("description", "", "transaction description")
	cmd.Flags().Int64("amount-cents", 0, "amount in cents")
	cmd.Flags().String("currency", "USD", "ISO currency code")
	cmd.Flags().String("bank", "", "bank name")

	return cmd
}

func runClassify(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if csvPath, _ := cmd.Flags().GetString("csv"); csvPath != "" {
		workers, _ := cmd.Flags().GetInt("workers")
		return classifyBatch(ctx, a, csvPath, workers)
	}

	id, _ := cmd.Flags().GetString("id")
	date, _ := cmd.Flags().GetString("date")
	merchant, _ := cmd.Flags().GetString("merchant")
	description, _ := cmd.Flags().GetString("description")
	amountCents, _ := cmd.Flags().GetInt64("amount-cents")
	currency, _ := cmd.Flags().GetString("currency")
	bank, _ := cmd.Flags().GetString("bank")

	txn, err := parseTransactionFlags(id, date, merchant, description, amountCents, currency, bank)
	if err != nil {
		return err
	}

	result, err := a.engine.Classify(ctx, txn)
	if err != nil {
		return fmt.Errorf("classification failed: %w", err)
	}

	printResult(txn, result)
	return nil
}

func printResult(txn model.Transaction, result model.Result) {
	category := "unresolved"
	if c := model.CategoryByID(configuredCategories(), result.CategoryID); c != nil {
		category = c.Name
	}

	fmt.Printf("%s  $%.2f\n", txn.MerchantName, txn.Amount())
	fmt.Printf("  category:   %s\n", category)
	fmt.Printf("  confidence: %.2f\n", result.Confidence)
	fmt.Printf("  route:      %s\n", result.Route)
	if result.CostCents > 0 {
		fmt.Printf("  cost:       $%.2f\n", float64(result.CostCents)/100)
	}
	if result.Reasoning != "" {
		fmt.Printf("  reasoning:  %s\n", result.Reasoning)
	}
}

// classifyBatch streams the CSV through a bounded worker pool, one progress
// tick per finished row.
func classifyBatch(ctx context.Context, a *app, csvPath string, workers int) error {
	if workers < 1 {
		workers = 1
	}

	transactions, err := readTransactionsCSV(csvPath)
	if err != nil {
		return err
	}
	if len(transactions) == 0 {
		fmt.Println("No transactions found in file.")
		return nil
	}

	bar := progressbar.NewOptions(len(transactions),
		progressbar.OptionSetDescription("Classifying"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	type outcome struct {
		txn    model.Transaction
		result model.Result
		err    error
	}

	jobs := make(chan model.Transaction)
	outcomes := make(chan outcome, len(transactions))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for txn := range jobs {
				result, classifyErr := a.engine.Classify(ctx, txn)
				outcomes <- outcome{txn: txn, result: result, err: classifyErr}
				_ = bar.Add(1)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, txn := range transactions {
			select {
			case jobs <- txn:
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()
	close(outcomes)

	routeCounts := map[model.Route]int{}
	var totalCostCents int64
	failures := 0
	for o := range outcomes {
		if o.err != nil {
			failures++
			fmt.Fprintf(os.Stderr, "failed to classify %q: %v\n", o.txn.ID, o.err)
			continue
		}
		routeCounts[o.result.Route]++
		totalCostCents += o.result.CostCents
	}

	fmt.Printf("\nClassified %d transactions (%d failed)\n", len(transactions)-failures, failures)
	for _, route := range []model.Route{model.RouteCache, model.RouteSimilarity, model.RouteStatistical, model.RouteRemote, model.RouteUnresolved} {
		if n := routeCounts[route]; n > 0 {
			fmt.Printf("  %-12s %d\n", route, n)
		}
	}
	fmt.Printf("  total cost   $%.2f\n", float64(totalCostCents)/100)
	return nil
}

func readTransactionsCSV(path string) ([]model.Transaction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	reader := csv.NewReader(f)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[name] = i
	}
	for _, required := range []string{"id", "merchant", "amount_cents"} {
		if _, ok := columns[required]; !ok {
			return nil, fmt.Errorf("CSV is missing required column %q", required)
		}
	}

	field := func(record []string, name string) string {
		if i, ok := columns[name]; ok && i < len(record) {
			return record[i]
		}
		return ""
	}

	var transactions []model.Transaction
	line := 1
	for {
		record, readErr := reader.Read()
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, fmt.Errorf("failed to read CSV line %d: %w", line, readErr)
		}
		line++

		amountCents, parseErr := strconv.ParseInt(field(record, "amount_cents"), 10, 64)
		if parseErr != nil {
			return nil, fmt.Errorf("line %d: invalid amount_cents: %w", line, parseErr)
		}

		txn, buildErr := parseTransactionFlags(
			field(record, "id"),
			field(record, "date"),
			field(record, "merchant"),
			field(record, "description"),
			amountCents,
			field(record, "currency"),
			field(record, "bank"),
		)
		if buildErr != nil {
			return nil, fmt.Errorf("line %d: %w", line, buildErr)
		}
		transactions = append(transactions, txn)
	}

	return transactions, nil
}
