package skinport

import (
	"bytes"
	"fmt"
	"text/tabwriter"
)

// FormatPrice renders an amount in minor units, e.g. 1234 EUR as "12.34 EUR".
func FormatPrice(minor int64, c Currency) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, minor/100, minor%100, c)
}

// PrettyPrint renders the sales of one feed event as a table.
func (f SaleFeed) PrettyPrint() string {
	if len(f.Sales) == 0 {
		return fmt.Sprintf("%s: no sales", f.EventType)
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 3, ' ', 0)

	fmt.Fprintf(w, "%s (%d)\n", f.EventType, len(f.Sales))
	fmt.Fprintln(w, "ID\tItem\tPrice\tSuggested\tWear")
	fmt.Fprintln(w, "--\t----\t-----\t---------\t----")
	for _, s := range f.Sales {
		wear := "-"
		if s.Wear != nil {
			wear = fmt.Sprintf("%.4f", *s.Wear)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			s.SaleID,
			s.MarketHashName,
			FormatPrice(s.SalePrice, s.Currency),
			FormatPrice(s.SuggestedPrice, s.Currency),
			wear,
		)
	}

	w.Flush()
	return buf.String()
}
