// Package events publishes order lifecycle notifications for dashboards and
// kitchen displays. Delivery is fire-and-forget: at most once, unordered, and
// a failed publish never fails the mutation that triggered it.
package events

import (
	"context"

	"kapehan/backend/internal/domain"
)

const (
	OrderCreated = "order:created"
	OrderUpdated = "order:updated"
	OrderDeleted = "order:deleted"
)

// Event carries the full order document so consumers never need a read-back.
type Event struct {
	Type     string       `json:"type"`
	BranchID string       `json:"branch_id"`
	Order    domain.Order `json:"order"`
	AtMs     int64        `json:"at_ms"`
}

type Notifier interface {
	Publish(ctx context.Context, event Event) error
}

type NoopNotifier struct{}

func (NoopNotifier) Publish(_ context.Context, _ Event) error { return nil }
