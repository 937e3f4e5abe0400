package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cardamom-hq/cardamom/internal/model"
)

func budgetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "budget",
		Short: "Show remote spend against the configured caps",
		RunE:  runBudget,
	}
}

func runBudget(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	usage := a.engine.UsageReport(ctx)
	limits := budgetLimits()

	fmt.Println("Remote classification budget")
	fmt.Printf("  today:      $%.2f of $%.2f ($%.2f remaining)\n",
		cents(usage.DailySpentCents), cents(limits.DailyCapCents), cents(usage.DailyRemainingCents))
	fmt.Printf("  this month: $%.2f of $%.2f ($%.2f remaining)\n",
		cents(usage.MonthlySpentCents), cents(limits.MonthlyCapCents), cents(usage.MonthlyRemainingCents))
	fmt.Printf("  projected:  $%.2f by month end\n", cents(usage.ProjectedMonthlyCents))
	if usage.RemoteDisabled {
		fmt.Println("  remote layer is DISABLED until the current period rolls over")
	}

	stats := a.pipeline.RouteStats()
	if len(stats) > 0 {
		fmt.Println("\nFeedback by route")
		for _, route := range []model.Route{model.RouteCache, model.RouteSimilarity, model.RouteStatistical, model.RouteRemote, model.RouteUnresolved} {
			stat, ok := stats[route]
			if !ok {
				continue
			}
			total := stat.Correct + stat.Incorrect
			fmt.Printf("  %-12s %d correct / %d total\n", route, stat.Correct, total)
		}
	}

	return nil
}

func cents(c int64) float64 { return float64(c) / 100 }
