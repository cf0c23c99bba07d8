package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/alejoacosta74/skinport-go/pkg/skinport"
	"github.com/spf13/cobra"
)

var transactionsCmd = &cobra.Command{
	Use:   "transactions",
	Short: "List the account transactions (requires API credentials)",
	Args:  cobra.NoArgs,
	RunE:  runTransactions,
}

func init() {
	rootCmd.AddCommand(transactionsCmd)
	transactionsCmd.Flags().Int("page", 1, "first page to fetch")
	transactionsCmd.Flags().Int("limit", 100, "transactions per page (1-100)")
	transactionsCmd.Flags().String("order", "desc", "order by creation date (asc, desc)")
	transactionsCmd.Flags().Bool("all", false, "follow every page after --page")
	transactionsCmd.Flags().Bool("json", false, "print the transactions as JSON")
}

func runTransactions(cmd *cobra.Command, _ []string) error {
	page, _ := cmd.Flags().GetInt("page")
	limit, _ := cmd.Flags().GetInt("limit")
	order, _ := cmd.Flags().GetString("order")
	all, _ := cmd.Flags().GetBool("all")
	asJSON, _ := cmd.Flags().GetBool("json")

	if appConfig.REST.ClientID == "" {
		return fmt.Errorf("%w: rest.client_id and rest.client_secret are required", skinport.ErrInvalidParam)
	}

	ctx, cancel := signalContext()
	defer cancel()
	client := newRESTClient(appConfig.REST)
	defer client.Close()

	params := skinport.TransactionsParams{Page: page, Limit: limit, Order: skinport.Order(order)}

	var txs []skinport.Transaction
	if all {
		var err error
		if txs, err = client.Transactions(params).All(ctx); err != nil {
			return err
		}
	} else {
		res, err := client.GetAccountTransactions(ctx, params)
		if err != nil {
			return err
		}
		txs = res.Transactions
	}

	if asJSON {
		return writeJSON(cmd.OutOrStdout(), txs)
	}
	return printTransactions(cmd.OutOrStdout(), txs)
}

func printTransactions(out io.Writer, txs []skinport.Transaction) error {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tType\tStatus\tAmount\tFee\tItems\tCreated")
	for _, t := range txs {
		kind := t.Type
		if t.SubType != "" {
			kind += "/" + t.SubType
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%.2f %s\t%.2f\t%d\t%s\n",
			t.ID, kind, t.Status, t.Amount, t.Currency, t.Fee, len(t.Items),
			t.CreatedAt.Local().Format(time.DateTime))
	}
	return w.Flush()
}
