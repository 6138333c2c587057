package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"kapehan/backend/internal/domain"
	"kapehan/backend/internal/store"
)

type Store struct {
	mu              sync.RWMutex
	ordersByID      map[string]domain.Order
	withdrawalsByID map[string]domain.Withdrawal
	menuByID        map[string]domain.MenuItem
	statsByBranch   map[string]domain.BranchStats
	validations     map[string]domain.DayValidation
	usersByUsername map[string]domain.UserAccount
	orderSeq        int64
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_CREW_PASSWORD; unset
// variables fall back to hardcoded dev defaults with a warning. These
// defaults are never used in production (the backend uses PostgreSQL when
// DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	crewPwd := envOr("SEED_CREW_PASSWORD", "crew123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CREW_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CREW_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"crew", crewPwd, "crew"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	menu := []domain.MenuItem{
		{ID: "americano", Name: "Americano", Category: "coffee", Owner: "mara", Price: 95, Active: true},
		{ID: "spanish-latte", Name: "Spanish Latte", Category: "coffee", Owner: "mara", Price: 130, Active: true},
		{ID: "caramel-macchiato", Name: "Caramel Macchiato", Category: "coffee", Owner: "mara", Price: 140, Active: true},
		{ID: "matcha-latte", Name: "Matcha Latte", Category: "non-coffee", Owner: "mara", Price: 135, Active: true},
		{ID: "strawberry-milk", Name: "Strawberry Milk", Category: "non-coffee", Owner: "mara", Price: 120, Active: true},
		{ID: "clubhouse", Name: "Clubhouse Sandwich", Category: "sandwich", Owner: "jojo", Price: 165, Active: true},
		{ID: "tuna-melt", Name: "Tuna Melt", Category: "sandwich", Owner: "jojo", Price: 150, Active: true},
		{ID: "carbonara", Name: "Carbonara", Category: "pasta", Owner: "jojo", Price: 180, Active: true},
		{ID: "bolognese", Name: "Bolognese", Category: "pasta", Owner: "jojo", Price: 180, Active: true},
		{ID: "fries", Name: "Classic Fries", Category: "snack", Owner: "jojo", Price: 90, Active: true},
		{ID: "choc-chip-cookie", Name: "Choc Chip Cookie", Category: "pastry", Owner: "mara", Price: 65, Active: true},
		{ID: "banana-bread", Name: "Banana Bread", Category: "pastry", Owner: "mara", Price: 75, Active: true},
	}

	menuByID := make(map[string]domain.MenuItem, len(menu))
	for _, item := range menu {
		menuByID[item.ID] = item
	}

	return &Store{
		ordersByID:      make(map[string]domain.Order),
		withdrawalsByID: make(map[string]domain.Withdrawal),
		menuByID:        menuByID,
		statsByBranch:   make(map[string]domain.BranchStats),
		validations:     make(map[string]domain.DayValidation),
		usersByUsername: seedUsers(),
	}
}

// NewEmpty returns a store with no seeded menu or users, for tests that
// control every fixture themselves.
func NewEmpty() *Store {
	return &Store{
		ordersByID:      make(map[string]domain.Order),
		withdrawalsByID: make(map[string]domain.Withdrawal),
		menuByID:        make(map[string]domain.MenuItem),
		statsByBranch:   make(map[string]domain.BranchStats),
		validations:     make(map[string]domain.DayValidation),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

func (s *Store) CreateOrder(_ context.Context, order domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if order.ID == "" {
		return store.ErrValidation
	}
	if _, exists := s.ordersByID[order.ID]; exists {
		return store.ErrConflict
	}
	s.ordersByID[order.ID] = cloneOrder(order)
	return nil
}

func (s *Store) GetOrder(_ context.Context, id string) (domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, exists := s.ordersByID[id]
	if !exists {
		return domain.Order{}, store.ErrNotFound
	}
	return cloneOrder(order), nil
}

func (s *Store) UpdateOrder(_ context.Context, order domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.ordersByID[order.ID]; !exists {
		return store.ErrNotFound
	}
	s.ordersByID[order.ID] = cloneOrder(order)
	return nil
}

func (s *Store) DeleteOrder(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.ordersByID[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.ordersByID, id)
	return nil
}

func (s *Store) ListOrders(_ context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Order, 0, len(s.ordersByID))
	for _, order := range s.ordersByID {
		if filter.BranchID != "" && order.BranchID != filter.BranchID {
			continue
		}
		if filter.IsPaid != nil && order.IsPaid != *filter.IsPaid {
			continue
		}
		if filter.Status != "" && order.DerivedStatus() != filter.Status {
			continue
		}
		if filter.CustomerName != "" && !strings.Contains(strings.ToLower(order.CustomerName), strings.ToLower(filter.CustomerName)) {
			continue
		}
		result = append(result, cloneOrder(order))
	}

	asc := filter.Sort == "asc"
	slices.SortFunc(result, func(a, b domain.Order) int {
		if a.CreatedAtMs == b.CreatedAtMs {
			return strings.Compare(a.ID, b.ID)
		}
		if (a.CreatedAtMs < b.CreatedAtMs) == asc {
			return -1
		}
		return 1
	})

	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) ListOrdersBetween(_ context.Context, branchID string, fromMs, toMs int64) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Order, 0)
	for _, order := range s.ordersByID {
		if branchID != "" && order.BranchID != branchID {
			continue
		}
		if order.CreatedAtMs < fromMs || order.CreatedAtMs >= toMs {
			continue
		}
		result = append(result, cloneOrder(order))
	}
	slices.SortFunc(result, func(a, b domain.Order) int {
		if a.CreatedAtMs == b.CreatedAtMs {
			return strings.Compare(a.ID, b.ID)
		}
		if a.CreatedAtMs < b.CreatedAtMs {
			return -1
		}
		return 1
	})
	return result, nil
}

func (s *Store) ListOrdersUpdatedSince(_ context.Context, branchID string, sinceMs int64) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Order, 0)
	for _, order := range s.ordersByID {
		if branchID != "" && order.BranchID != branchID {
			continue
		}
		if order.UpdatedAtMs <= sinceMs {
			continue
		}
		result = append(result, cloneOrder(order))
	}
	slices.SortFunc(result, func(a, b domain.Order) int {
		if a.UpdatedAtMs == b.UpdatedAtMs {
			return strings.Compare(a.ID, b.ID)
		}
		if a.UpdatedAtMs < b.UpdatedAtMs {
			return -1
		}
		return 1
	})
	return result, nil
}

func (s *Store) DeleteOrdersBetween(_ context.Context, branchID string, fromMs, toMs int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, order := range s.ordersByID {
		if branchID != "" && order.BranchID != branchID {
			continue
		}
		if order.CreatedAtMs < fromMs || order.CreatedAtMs >= toMs {
			continue
		}
		delete(s.ordersByID, id)
		deleted++
	}
	return deleted, nil
}

func (s *Store) NextOrderNumber(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.orderSeq++
	return s.orderSeq, nil
}

func (s *Store) CreateWithdrawal(_ context.Context, w domain.Withdrawal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w.ID == "" {
		return store.ErrValidation
	}
	if _, exists := s.withdrawalsByID[w.ID]; exists {
		return store.ErrConflict
	}
	s.withdrawalsByID[w.ID] = w
	return nil
}

func (s *Store) ListWithdrawalsBetween(_ context.Context, branchID string, fromMs, toMs int64) ([]domain.Withdrawal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Withdrawal, 0)
	for _, w := range s.withdrawalsByID {
		if branchID != "" && w.BranchID != branchID {
			continue
		}
		if w.CreatedAtMs < fromMs || w.CreatedAtMs >= toMs {
			continue
		}
		result = append(result, w)
	}
	slices.SortFunc(result, func(a, b domain.Withdrawal) int {
		if a.CreatedAtMs == b.CreatedAtMs {
			return strings.Compare(a.ID, b.ID)
		}
		if a.CreatedAtMs < b.CreatedAtMs {
			return -1
		}
		return 1
	})
	return result, nil
}

func (s *Store) DeleteWithdrawalsBetween(_ context.Context, branchID string, fromMs, toMs int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, w := range s.withdrawalsByID {
		if branchID != "" && w.BranchID != branchID {
			continue
		}
		if w.CreatedAtMs < fromMs || w.CreatedAtMs >= toMs {
			continue
		}
		delete(s.withdrawalsByID, id)
		deleted++
	}
	return deleted, nil
}

func (s *Store) CreateMenuItem(_ context.Context, item domain.MenuItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.ID == "" || item.Name == "" || item.Price < 0 {
		return store.ErrValidation
	}
	if _, exists := s.menuByID[item.ID]; exists {
		return store.ErrConflict
	}
	s.menuByID[item.ID] = item
	return nil
}

func (s *Store) UpdateMenuItem(_ context.Context, item domain.MenuItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.menuByID[item.ID]; !exists {
		return store.ErrNotFound
	}
	s.menuByID[item.ID] = item
	return nil
}

func (s *Store) GetMenuItem(_ context.Context, id string) (domain.MenuItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, exists := s.menuByID[id]
	if !exists {
		return domain.MenuItem{}, store.ErrNotFound
	}
	return item, nil
}

func (s *Store) ListMenuItems(_ context.Context) ([]domain.MenuItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.MenuItem, 0, len(s.menuByID))
	for _, item := range s.menuByID {
		items = append(items, item)
	}
	slices.SortFunc(items, func(a, b domain.MenuItem) int {
		if a.Category == b.Category {
			return strings.Compare(a.Name, b.Name)
		}
		return strings.Compare(a.Category, b.Category)
	})
	return items, nil
}

func (s *Store) GetBranchStats(_ context.Context, branchID string) (domain.BranchStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats, exists := s.statsByBranch[branchID]
	if !exists {
		return domain.BranchStats{BranchID: branchID}, nil
	}
	return stats, nil
}

func (s *Store) PutBranchStats(_ context.Context, stats domain.BranchStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stats.BranchID == "" {
		return store.ErrValidation
	}
	s.statsByBranch[stats.BranchID] = stats
	return nil
}

func (s *Store) SetDayValidation(_ context.Context, v domain.DayValidation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v.BranchID == "" || v.Date == "" {
		return store.ErrValidation
	}
	s.validations[v.BranchID+"|"+v.Date] = v
	return nil
}

func (s *Store) GetDayValidations(_ context.Context, branchID string, dates []string) (map[string]domain.DayValidation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.DayValidation, len(dates))
	for _, date := range dates {
		if v, ok := s.validations[branchID+"|"+date]; ok {
			result[date] = v
		}
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" {
		return store.ErrValidation
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) Close() error { return nil }

// cloneOrder deep-copies the slices so callers never share backing arrays
// with the stored document.
func cloneOrder(order domain.Order) domain.Order {
	copied := order
	copied.Items = slices.Clone(order.Items)
	copied.Notes = slices.Clone(order.Notes)
	if order.AppendedOrders != nil {
		copied.AppendedOrders = make([]domain.AppendedOrder, len(order.AppendedOrders))
		for i, app := range order.AppendedOrders {
			appCopy := app
			appCopy.Items = slices.Clone(app.Items)
			copied.AppendedOrders[i] = appCopy
		}
	}
	return copied
}
