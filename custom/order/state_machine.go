package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/romana/rlog"
	"preorder_hub/constants"
	"preorder_hub/custom/store"
)

var ErrIllegalTransition = errors.New("illegal order status transition")

// Order states: pending moves to exactly one terminal state.
var transitions = map[string][]string{
	constants.ORDER_STATUS_PENDING: {
		constants.ORDER_STATUS_COMPLETED,
		constants.ORDER_STATUS_FAILED,
		constants.ORDER_STATUS_CANCELLED,
	},
	constants.ORDER_STATUS_COMPLETED: nil,
	constants.ORDER_STATUS_FAILED:    nil,
	constants.ORDER_STATUS_CANCELLED: nil,
}

func IsKnownStatus(status string) bool {
	_, ok := transitions[status]
	return ok
}

func IsTerminal(status string) bool {
	next, ok := transitions[status]
	return ok && len(next) == 0
}

// Transition validates a status change and returns ErrIllegalTransition when it is not allowed.
func Transition(from string, to string) error {
	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
}

// ExpireStalePending cancels pending orders created before the cutoff. Orders that changed
// state concurrently are left alone.
func (s *Service) ExpireStalePending(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.now().Add(-olderThan)
	pendingOrders, err := s.store.ListPendingOrdersBefore(ctx, cutoff)
	if err != nil {
		rlog.Error(err)
		return 0, err
	}
	if len(pendingOrders) > 0 {
		rlog.Infof("Found %d stale pending orders.", len(pendingOrders))
	}

	expired := 0
	for _, o := range pendingOrders {
		err = s.store.TransitionOrderStatus(ctx, o.OrderNumber, constants.ORDER_STATUS_PENDING, constants.ORDER_STATUS_CANCELLED)
		if errors.Is(err, store.ErrStatusChanged) {
			continue
		}
		if err != nil {
			rlog.Errorf("Expire order %s failed: %s", o.OrderNumber, err.Error())
			return expired, err
		}
		expired++
		rlog.Infof("Order %s state was set to %s", o.OrderNumber, constants.ORDER_STATUS_CANCELLED)
	}
	return expired, nil
}

// RunPendingSweeper expires stale pending orders every interval until ctx is done.
func (s *Service) RunPendingSweeper(ctx context.Context, ttl time.Duration, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := s.ExpireStalePending(ctx, ttl); err != nil && ctx.Err() == nil {
			rlog.Error("Sweep pending orders failed:", err.Error())
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
