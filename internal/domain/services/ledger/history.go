package ledger

import (
	"context"
	"iter"

	"github.com/helgykoin/hkn_ledger/internal/domain/entities"
	"github.com/helgykoin/hkn_ledger/pkg/retry"
)

const historyPageSize = 50

// TransactionHistory yields up to limit of the account's entries, newest
// first. Pages are fetched lazily as the caller ranges; ranging again starts
// over from the newest entry.
func (s *Service) TransactionHistory(ctx context.Context, accountID int64, limit int) iter.Seq2[*entities.Transaction, error] {
	return func(yield func(*entities.Transaction, error) bool) {
		var cursor *entities.HistoryCursor
		remaining := limit
		for remaining > 0 {
			size := min(remaining, historyPageSize)
			page, err := retry.Run(ctx, s.retrier, "transaction_history", func(ctx context.Context) ([]*entities.Transaction, error) {
				return s.store.ListTransactions(ctx, accountID, cursor, size)
			})
			if err != nil {
				yield(nil, err)
				return
			}
			for _, t := range page {
				if !yield(t, nil) {
					return
				}
			}
			if len(page) < size {
				return
			}
			remaining -= len(page)
			last := page[len(page)-1]
			cursor = &entities.HistoryCursor{CreatedAt: last.CreatedAt, ID: last.ID}
		}
	}
}

// RecentTransactions collects TransactionHistory into a slice.
func (s *Service) RecentTransactions(ctx context.Context, accountID int64, limit int) ([]*entities.Transaction, error) {
	out := make([]*entities.Transaction, 0, min(max(limit, 0), historyPageSize))
	for t, err := range s.TransactionHistory(ctx, accountID, limit) {
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
