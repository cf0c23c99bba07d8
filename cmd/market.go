package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/alejoacosta74/skinport-go/pkg/skinport"
	"github.com/spf13/cobra"
)

var itemsCmd = &cobra.Command{
	Use:   "items",
	Short: "List items for sale with their price range",
	Args:  cobra.NoArgs,
	RunE:  runItems,
}

var salesCmd = &cobra.Command{
	Use:   "sales MARKET_HASH_NAME...",
	Short: "Show the sales history of one or more items",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSales,
}

var outOfStockCmd = &cobra.Command{
	Use:   "out-of-stock",
	Short: "List items that sold recently but have no listing",
	Args:  cobra.NoArgs,
	RunE:  runOutOfStock,
}

func init() {
	for _, c := range []*cobra.Command{itemsCmd, salesCmd, outOfStockCmd} {
		c.Flags().String("app", "730", "app id or name (730, cs2, dota2, rust, tf2)")
		c.Flags().String("currency", "EUR", "currency of the returned prices")
		c.Flags().Bool("json", false, "print the raw JSON response")
		rootCmd.AddCommand(c)
	}
	itemsCmd.Flags().Bool("tradable", false, "only list items that can be traded right away")
}

type marketFlags struct {
	app      skinport.AppID
	currency skinport.Currency
	json     bool
}

func parseMarketFlags(cmd *cobra.Command) (marketFlags, error) {
	var f marketFlags
	app, _ := cmd.Flags().GetString("app")
	currency, _ := cmd.Flags().GetString("currency")
	f.json, _ = cmd.Flags().GetBool("json")

	var err error
	if f.app, err = skinport.ParseAppID(app); err != nil {
		return f, err
	}
	if f.currency, err = skinport.ParseCurrency(currency); err != nil {
		return f, err
	}
	return f, nil
}

func runItems(cmd *cobra.Command, _ []string) error {
	f, err := parseMarketFlags(cmd)
	if err != nil {
		return err
	}
	tradable, _ := cmd.Flags().GetBool("tradable")

	ctx, cancel := signalContext()
	defer cancel()
	client := newRESTClient(appConfig.REST)
	defer client.Close()

	items, err := client.GetItems(ctx, skinport.ItemsParams{AppID: f.app, Currency: f.currency, Tradable: tradable})
	if err != nil {
		return err
	}
	if f.json {
		return writeJSON(cmd.OutOrStdout(), items)
	}
	return printItems(cmd.OutOrStdout(), items)
}

func runSales(cmd *cobra.Command, args []string) error {
	f, err := parseMarketFlags(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	client := newRESTClient(appConfig.REST)
	defer client.Close()

	history, err := client.GetSalesHistory(ctx, skinport.SalesHistoryParams{
		MarketHashNames: args,
		AppID:           f.app,
		Currency:        f.currency,
	})
	if err != nil {
		return err
	}
	if f.json {
		return writeJSON(cmd.OutOrStdout(), history)
	}
	return printSalesHistory(cmd.OutOrStdout(), history)
}

func runOutOfStock(cmd *cobra.Command, _ []string) error {
	f, err := parseMarketFlags(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	client := newRESTClient(appConfig.REST)
	defer client.Close()

	items, err := client.GetSalesOutOfStock(ctx, skinport.OutOfStockParams{AppID: f.app, Currency: f.currency})
	if err != nil {
		return err
	}
	if f.json {
		return writeJSON(cmd.OutOrStdout(), items)
	}
	return printOutOfStock(cmd.OutOrStdout(), items)
}

func price(p *float64) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *p)
}

func printItems(out io.Writer, items []skinport.Item) error {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "Item\tQty\tMin\tMax\tMean\tSuggested\tCurrency")
	for _, it := range items {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
			it.MarketHashName, it.Quantity,
			price(it.MinPrice), price(it.MaxPrice), price(it.MeanPrice), price(it.SuggestedPrice),
			it.Currency)
	}
	return w.Flush()
}

func printSalesHistory(out io.Writer, history []skinport.ItemWithSales) error {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "Item\tPeriod\tVolume\tMin\tMax\tAvg\tCurrency")
	for _, h := range history {
		periods := []struct {
			name string
			agg  skinport.LastXDays
		}{
			{"24h", h.Last24Hours},
			{"7d", h.Last7Days},
			{"30d", h.Last30Days},
			{"90d", h.Last90Days},
		}
		for _, p := range periods {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
				h.MarketHashName, p.name, p.agg.Volume,
				price(p.agg.Min), price(p.agg.Max), price(p.agg.Avg), h.Currency)
		}
	}
	return w.Flush()
}

func printOutOfStock(out io.Writer, items []skinport.ItemOutOfStock) error {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "Item\tSales (90d)\tAvg\tSuggested\tCurrency")
	for _, it := range items {
		fmt.Fprintf(w, "%s\t%d\t%.2f\t%.2f\t%s\n",
			it.MarketHashName, it.SalesLast90d, it.AvgSalePrice, it.SuggestedPrice, it.Currency)
	}
	return w.Flush()
}
