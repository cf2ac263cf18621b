package memory

import (
	"sort"

	"github.com/nelani/payment-gateway/internal/payment/application"
	"github.com/nelani/payment-gateway/internal/payment/domain"
)

func sortPayments(items []domain.Payment, by application.SortField, descending bool) {
	less := func(a, b domain.Payment) bool {
		switch by {
		case application.SortByAmount:
			return a.Amount.LessThan(b.Amount)
		case application.SortByStatus:
			return a.Status < b.Status
		case application.SortByProvider:
			return a.Provider < b.Provider
		case application.SortByExpiresAt:
			return a.ExpiresAt.Before(b.ExpiresAt)
		case application.SortByCompletedAt:
			// Incomplete payments sort last.
			switch {
			case a.CompletedAt == nil:
				return false
			case b.CompletedAt == nil:
				return true
			default:
				return a.CompletedAt.Before(*b.CompletedAt)
			}
		default:
			return a.CreatedAt.Before(b.CreatedAt)
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		if descending {
			return less(items[j], items[i])
		}
		return less(items[i], items[j])
	})
}
