package skinport

import (
	"context"
	"net/http"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pagedServer serves ids 1..total in pages of limit transactions.
func pagedServer(t *testing.T, total, limit int, failPage int) *apiServer {
	pages := (total + limit - 1) / limit
	return newAPIServer(t, func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if page == failPage {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Unauthorized"})
			return
		}
		var data []map[string]any
		for id := (page-1)*limit + 1; id <= page*limit && id <= total; id++ {
			data = append(data, map[string]any{"id": id, "type": "purchase", "currency": "EUR"})
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"pagination": map[string]any{"page": page, "pages": pages, "limit": limit, "order": "desc"},
			"data":       data,
		})
	})
}

func TestTransactionIterator(t *testing.T) {
	tests := []struct {
		name          string
		total         int
		expectedCalls int
	}{
		{name: "several pages", total: 7, expectedCalls: 3},
		{name: "exact pages", total: 6, expectedCalls: 2},
		{name: "single page", total: 2, expectedCalls: 1},
		{name: "empty account", total: 0, expectedCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := pagedServer(t, tt.total, 3, -1)
			h := newTestHTTPClient(s)

			all, err := h.Transactions(TransactionsParams{Limit: 3}).All(context.Background())
			require.NoError(t, err)
			require.Len(t, all, tt.total)
			for i, tx := range all {
				assert.Equal(t, int64(i+1), tx.ID)
			}
			assert.Len(t, s.Requests(), tt.expectedCalls)
		})
	}
}

func TestTransactionIterator_Error(t *testing.T) {
	s := pagedServer(t, 9, 3, 2)
	h := newTestHTTPClient(s)

	it := h.Transactions(TransactionsParams{Limit: 3})
	var ids []int64
	for it.Next(context.Background()) {
		ids = append(ids, it.Transaction().ID)
	}
	assert.Equal(t, []int64{1, 2, 3}, ids)
	assert.ErrorIs(t, it.Err(), ErrAuthentication)
	assert.False(t, it.Next(context.Background()))
}
