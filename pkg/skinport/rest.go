package skinport

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ItemsParams filters GET /items. Zero values select CS2 and EUR.
type ItemsParams struct {
	AppID    AppID
	Currency Currency
	Tradable bool
}

// SalesHistoryParams filters GET /sales/history. MarketHashNames is required.
type SalesHistoryParams struct {
	MarketHashNames []string
	AppID           AppID
	Currency        Currency
}

// OutOfStockParams filters GET /sales/out-of-stock.
type OutOfStockParams struct {
	AppID    AppID
	Currency Currency
}

// TransactionsParams pages GET /account/transactions. Zero values select
// page 1, 100 per page, newest first.
type TransactionsParams struct {
	Page  int
	Limit int
	Order Order
}

func marketQuery(app AppID, currency Currency) url.Values {
	if app == 0 {
		app = AppCSGO
	}
	if currency == "" {
		currency = CurrencyEUR
	}
	q := url.Values{}
	q.Set("app_id", strconv.Itoa(int(app)))
	q.Set("currency", currency.String())
	return q
}

// GetItems returns the items listed for sale with their price statistics.
func (h *HTTPClient) GetItems(ctx context.Context, p ItemsParams) ([]Item, error) {
	q := marketQuery(p.AppID, p.Currency)
	q.Set("tradable", strconv.FormatBool(p.Tradable))

	var items []Item
	if err := h.get(ctx, "/items", q, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// GetSalesHistory returns aggregated sale statistics for the given items.
func (h *HTTPClient) GetSalesHistory(ctx context.Context, p SalesHistoryParams) ([]ItemWithSales, error) {
	names := make([]string, 0, len(p.MarketHashNames))
	for _, n := range p.MarketHashNames {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: market_hash_name", ErrParamRequired)
	}

	q := marketQuery(p.AppID, p.Currency)
	q.Set("market_hash_name", strings.Join(names, ","))

	var sales []ItemWithSales
	if err := h.get(ctx, "/sales/history", q, &sales); err != nil {
		return nil, err
	}
	return sales, nil
}

// GetSalesOutOfStock returns items that sold recently but have no listing.
func (h *HTTPClient) GetSalesOutOfStock(ctx context.Context, p OutOfStockParams) ([]ItemOutOfStock, error) {
	var items []ItemOutOfStock
	if err := h.get(ctx, "/sales/out-of-stock", marketQuery(p.AppID, p.Currency), &items); err != nil {
		return nil, err
	}
	return items, nil
}

// GetAccountTransactions returns one page of the authenticated account's
// transactions. It requires SetAuth.
func (h *HTTPClient) GetAccountTransactions(ctx context.Context, p TransactionsParams) (TransactionPage, error) {
	if p.Page == 0 {
		p.Page = 1
	}
	if p.Limit == 0 {
		p.Limit = 100
	}
	if p.Order == "" {
		p.Order = OrderDesc
	}
	switch {
	case p.Page < 1:
		return TransactionPage{}, fmt.Errorf("%w: page must be positive", ErrInvalidParam)
	case p.Limit < 1 || p.Limit > 100:
		return TransactionPage{}, fmt.Errorf("%w: limit must be between 1 and 100", ErrInvalidParam)
	case p.Order != OrderAsc && p.Order != OrderDesc:
		return TransactionPage{}, fmt.Errorf("%w: order must be asc or desc", ErrInvalidParam)
	}

	q := url.Values{}
	q.Set("page", strconv.Itoa(p.Page))
	q.Set("limit", strconv.Itoa(p.Limit))
	q.Set("order", string(p.Order))

	var page TransactionPage
	if err := h.get(ctx, "/account/transactions", q, &page); err != nil {
		return TransactionPage{}, err
	}
	return page, nil
}
