package skinport

import "context"

// TransactionIterator walks every account transaction page by page.
//
//	it := client.Transactions(TransactionsParams{})
//	for it.Next(ctx) {
//		t := it.Transaction()
//	}
//	if err := it.Err(); err != nil { ... }
type TransactionIterator struct {
	client  *HTTPClient
	params  TransactionsParams
	buf     []Transaction
	current Transaction
	more    bool
	err     error
}

// Transactions returns an iterator starting at params.Page.
func (h *HTTPClient) Transactions(params TransactionsParams) *TransactionIterator {
	if params.Page == 0 {
		params.Page = 1
	}
	return &TransactionIterator{client: h, params: params, more: true}
}

// Next advances to the next transaction, fetching the next page when the
// current one is exhausted. It returns false at the end or on error.
func (it *TransactionIterator) Next(ctx context.Context) bool {
	for len(it.buf) == 0 {
		if !it.more || it.err != nil {
			return false
		}
		page, err := it.client.GetAccountTransactions(ctx, it.params)
		if err != nil {
			it.err = err
			return false
		}
		it.buf = page.Transactions
		current := page.Pagination.Page
		if current == 0 {
			current = it.params.Page
		}
		it.params.Page = current + 1
		if current >= page.Pagination.Pages || len(page.Transactions) == 0 {
			it.more = false
		}
	}
	it.current = it.buf[0]
	it.buf = it.buf[1:]
	return true
}

// Transaction returns the transaction Next advanced to.
func (it *TransactionIterator) Transaction() Transaction {
	return it.current
}

func (it *TransactionIterator) Err() error {
	return it.err
}

// All drains the iterator.
func (it *TransactionIterator) All(ctx context.Context) ([]Transaction, error) {
	var out []Transaction
	for it.Next(ctx) {
		out = append(out, it.Transaction())
	}
	return out, it.Err()
}
