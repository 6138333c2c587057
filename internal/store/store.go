package store

import (
	"context"
	"errors"

	"kapehan/backend/internal/domain"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")
)

// Repository is the persistence contract. Orders are saved and loaded as whole
// documents; UpdateOrder replaces the stored document in one write.
type Repository interface {
	CreateOrder(ctx context.Context, order domain.Order) error
	GetOrder(ctx context.Context, id string) (domain.Order, error)
	UpdateOrder(ctx context.Context, order domain.Order) error
	DeleteOrder(ctx context.Context, id string) error
	ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error)
	ListOrdersBetween(ctx context.Context, branchID string, fromMs, toMs int64) ([]domain.Order, error)
	ListOrdersUpdatedSince(ctx context.Context, branchID string, sinceMs int64) ([]domain.Order, error)
	DeleteOrdersBetween(ctx context.Context, branchID string, fromMs, toMs int64) (int, error)
	NextOrderNumber(ctx context.Context) (int64, error)

	CreateWithdrawal(ctx context.Context, w domain.Withdrawal) error
	ListWithdrawalsBetween(ctx context.Context, branchID string, fromMs, toMs int64) ([]domain.Withdrawal, error)
	DeleteWithdrawalsBetween(ctx context.Context, branchID string, fromMs, toMs int64) (int, error)

	CreateMenuItem(ctx context.Context, item domain.MenuItem) error
	UpdateMenuItem(ctx context.Context, item domain.MenuItem) error
	GetMenuItem(ctx context.Context, id string) (domain.MenuItem, error)
	ListMenuItems(ctx context.Context) ([]domain.MenuItem, error)

	GetBranchStats(ctx context.Context, branchID string) (domain.BranchStats, error)
	PutBranchStats(ctx context.Context, stats domain.BranchStats) error

	SetDayValidation(ctx context.Context, v domain.DayValidation) error
	GetDayValidations(ctx context.Context, branchID string, dates []string) (map[string]domain.DayValidation, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error

	Close() error
}
