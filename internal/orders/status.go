package orders

import (
	"github.com/safar/rewear-store/internal/apperr"
	"github.com/safar/rewear-store/internal/models"
)

var validNext = map[models.OrderStatus]map[models.OrderStatus]bool{
	models.OrderStatusPending: {
		models.OrderStatusProcessing: true,
		models.OrderStatusCancelled:  true,
		models.OrderStatusReturned:   true,
	},
	models.OrderStatusProcessing: {
		models.OrderStatusShipped:   true,
		models.OrderStatusCancelled: true,
		models.OrderStatusReturned:  true,
	},
	models.OrderStatusShipped: {
		models.OrderStatusDelivered: true,
		models.OrderStatusCancelled: true,
		models.OrderStatusReturned:  true,
	},
	models.OrderStatusDelivered: {
		models.OrderStatusReturned: true,
	},
	models.OrderStatusCancelled: {},
	models.OrderStatusReturned:  {},
}

// Transition validates from -> to. Requesting the current status is an
// accepted no-op. compensate is true when the move must return the order's
// stock to the catalog, which happens at most once per order.
func Transition(from, to models.OrderStatus) (compensate bool, err error) {
	if _, known := validNext[to]; !known {
		return false, &apperr.InvalidStatusError{To: string(to)}
	}
	if from == to {
		return false, nil
	}
	if !validNext[from][to] {
		return false, &apperr.InvalidStatusError{From: string(from), To: string(to)}
	}
	return to.Restocked() && !from.Restocked(), nil
}
