package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"kapehan/backend/internal/domain"
	"kapehan/backend/internal/store"
)

// Store persists each order as one row with the nested items, appended orders
// and notes as JSONB columns, so an order save is a single-row write.
type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateOrder(ctx context.Context, order domain.Order) error {
	if order.ID == "" {
		return store.ErrValidation
	}
	items, appended, notes, err := encodeOrderDocs(order)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO orders (id, branch_id, order_number, customer_name, order_type,
			items, appended_orders, notes, created_at_ms, updated_at_ms,
			is_paid, payment_method, cash_amount, gcash_amount, paid_amount, amount_received,
			all_items_served_at_ms)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`, order.ID, order.BranchID, order.OrderNumber, order.CustomerName, order.OrderType,
		items, appended, notes, order.CreatedAtMs, order.UpdatedAtMs,
		order.IsPaid, order.PaymentMethod, order.CashAmount, order.GcashAmount, order.PaidAmount, order.AmountReceived,
		order.AllItemsServedAtMs)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, branch_id, order_number, customer_name, order_type,
			items, appended_orders, notes, created_at_ms, updated_at_ms,
			is_paid, payment_method, cash_amount, gcash_amount, paid_amount, amount_received,
			all_items_served_at_ms
		FROM orders
		WHERE id = $1
	`, id)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, store.ErrNotFound
		}
		return domain.Order{}, err
	}
	return order, nil
}

func (s *Store) UpdateOrder(ctx context.Context, order domain.Order) error {
	items, appended, notes, err := encodeOrderDocs(order)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET branch_id = $2, order_number = $3, customer_name = $4, order_type = $5,
			items = $6, appended_orders = $7, notes = $8, created_at_ms = $9, updated_at_ms = $10,
			is_paid = $11, payment_method = $12, cash_amount = $13, gcash_amount = $14,
			paid_amount = $15, amount_received = $16, all_items_served_at_ms = $17
		WHERE id = $1
	`, order.ID, order.BranchID, order.OrderNumber, order.CustomerName, order.OrderType,
		items, appended, notes, order.CreatedAtMs, order.UpdatedAtMs,
		order.IsPaid, order.PaymentMethod, order.CashAmount, order.GcashAmount, order.PaidAmount, order.AmountReceived,
		order.AllItemsServedAtMs)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteOrder(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	query := strings.Builder{}
	query.WriteString(`
		SELECT id, branch_id, order_number, customer_name, order_type,
			items, appended_orders, notes, created_at_ms, updated_at_ms,
			is_paid, payment_method, cash_amount, gcash_amount, paid_amount, amount_received,
			all_items_served_at_ms
		FROM orders
		WHERE 1=1`)
	args := make([]any, 0, 4)
	if filter.BranchID != "" {
		args = append(args, filter.BranchID)
		query.WriteString(` AND branch_id = $` + strconv.Itoa(len(args)))
	}
	if filter.IsPaid != nil {
		args = append(args, *filter.IsPaid)
		query.WriteString(` AND is_paid = $` + strconv.Itoa(len(args)))
	}
	if filter.CustomerName != "" {
		args = append(args, "%"+filter.CustomerName+"%")
		query.WriteString(` AND customer_name ILIKE $` + strconv.Itoa(len(args)))
	}
	if filter.Sort == "asc" {
		query.WriteString(` ORDER BY created_at_ms ASC, id ASC`)
	} else {
		query.WriteString(` ORDER BY created_at_ms DESC, id DESC`)
	}
	// The derived-status filter needs the full document, so the limit is
	// applied after decoding when a status filter is present.
	if filter.Limit > 0 && filter.Status == "" {
		args = append(args, filter.Limit)
		query.WriteString(` LIMIT $` + strconv.Itoa(len(args)))
	}

	rows, err := s.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, 64)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		if filter.Status != "" && order.DerivedStatus() != filter.Status {
			continue
		}
		orders = append(orders, order)
		if filter.Limit > 0 && filter.Status != "" && len(orders) >= filter.Limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *Store) ListOrdersBetween(ctx context.Context, branchID string, fromMs, toMs int64) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, branch_id, order_number, customer_name, order_type,
			items, appended_orders, notes, created_at_ms, updated_at_ms,
			is_paid, payment_method, cash_amount, gcash_amount, paid_amount, amount_received,
			all_items_served_at_ms
		FROM orders
		WHERE branch_id = $1 AND created_at_ms >= $2 AND created_at_ms < $3
		ORDER BY created_at_ms ASC, id ASC
	`, branchID, fromMs, toMs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

func (s *Store) ListOrdersUpdatedSince(ctx context.Context, branchID string, sinceMs int64) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, branch_id, order_number, customer_name, order_type,
			items, appended_orders, notes, created_at_ms, updated_at_ms,
			is_paid, payment_method, cash_amount, gcash_amount, paid_amount, amount_received,
			all_items_served_at_ms
		FROM orders
		WHERE branch_id = $1 AND updated_at_ms > $2
		ORDER BY updated_at_ms ASC, id ASC
	`, branchID, sinceMs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

func (s *Store) DeleteOrdersBetween(ctx context.Context, branchID string, fromMs, toMs int64) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM orders
		WHERE branch_id = $1 AND created_at_ms >= $2 AND created_at_ms < $3
	`, branchID, fromMs, toMs)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (s *Store) NextOrderNumber(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT nextval('order_number_seq')`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) CreateWithdrawal(ctx context.Context, w domain.Withdrawal) error {
	if w.ID == "" {
		return store.ErrValidation
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO withdrawals (id, branch_id, type, amount, payment_method, charged_to, note, created_at_ms)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, w.ID, w.BranchID, w.Type, w.Amount, w.PaymentMethod, w.ChargedTo, w.Note, w.CreatedAtMs)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListWithdrawalsBetween(ctx context.Context, branchID string, fromMs, toMs int64) ([]domain.Withdrawal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, branch_id, type, amount, payment_method, charged_to, note, created_at_ms
		FROM withdrawals
		WHERE branch_id = $1 AND created_at_ms >= $2 AND created_at_ms < $3
		ORDER BY created_at_ms ASC, id ASC
	`, branchID, fromMs, toMs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Withdrawal, 0, 16)
	for rows.Next() {
		var w domain.Withdrawal
		if err := rows.Scan(&w.ID, &w.BranchID, &w.Type, &w.Amount, &w.PaymentMethod, &w.ChargedTo, &w.Note, &w.CreatedAtMs); err != nil {
			return nil, err
		}
		result = append(result, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) DeleteWithdrawalsBetween(ctx context.Context, branchID string, fromMs, toMs int64) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM withdrawals
		WHERE branch_id = $1 AND created_at_ms >= $2 AND created_at_ms < $3
	`, branchID, fromMs, toMs)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (s *Store) CreateMenuItem(ctx context.Context, item domain.MenuItem) error {
	if item.ID == "" || item.Name == "" || item.Price < 0 {
		return store.ErrValidation
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO menu_items (id, name, category, owner, price, active)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, item.ID, item.Name, item.Category, item.Owner, item.Price, item.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) UpdateMenuItem(ctx context.Context, item domain.MenuItem) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE menu_items
		SET name = $2, category = $3, owner = $4, price = $5, active = $6
		WHERE id = $1
	`, item.ID, item.Name, item.Category, item.Owner, item.Price, item.Active)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) GetMenuItem(ctx context.Context, id string) (domain.MenuItem, error) {
	var item domain.MenuItem
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, category, owner, price, active
		FROM menu_items
		WHERE id = $1
	`, id).Scan(&item.ID, &item.Name, &item.Category, &item.Owner, &item.Price, &item.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.MenuItem{}, store.ErrNotFound
		}
		return domain.MenuItem{}, err
	}
	return item, nil
}

func (s *Store) ListMenuItems(ctx context.Context) ([]domain.MenuItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, owner, price, active
		FROM menu_items
		ORDER BY category, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.MenuItem, 0, 64)
	for rows.Next() {
		var item domain.MenuItem
		if err := rows.Scan(&item.ID, &item.Name, &item.Category, &item.Owner, &item.Price, &item.Active); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetBranchStats(ctx context.Context, branchID string) (domain.BranchStats, error) {
	var stats domain.BranchStats
	err := s.db.QueryRowContext(ctx, `
		SELECT branch_id, total_wait_time_ms, completed_orders
		FROM branch_stats
		WHERE branch_id = $1
	`, branchID).Scan(&stats.BranchID, &stats.TotalWaitTimeMs, &stats.CompletedOrders)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.BranchStats{BranchID: branchID}, nil
		}
		return domain.BranchStats{}, err
	}
	return stats, nil
}

func (s *Store) PutBranchStats(ctx context.Context, stats domain.BranchStats) error {
	if stats.BranchID == "" {
		return store.ErrValidation
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO branch_stats (branch_id, total_wait_time_ms, completed_orders)
		VALUES ($1,$2,$3)
		ON CONFLICT (branch_id)
		DO UPDATE SET total_wait_time_ms = EXCLUDED.total_wait_time_ms, completed_orders = EXCLUDED.completed_orders
	`, stats.BranchID, stats.TotalWaitTimeMs, stats.CompletedOrders)
	return err
}

func (s *Store) SetDayValidation(ctx context.Context, v domain.DayValidation) error {
	if v.BranchID == "" || v.Date == "" {
		return store.ErrValidation
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO day_validations (branch_id, date, validated, validated_by, validated_at_ms)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (branch_id, date)
		DO UPDATE SET validated = EXCLUDED.validated, validated_by = EXCLUDED.validated_by, validated_at_ms = EXCLUDED.validated_at_ms
	`, v.BranchID, v.Date, v.Validated, v.ValidatedBy, v.ValidatedAtMs)
	return err
}

func (s *Store) GetDayValidations(ctx context.Context, branchID string, dates []string) (map[string]domain.DayValidation, error) {
	result := make(map[string]domain.DayValidation, len(dates))
	if len(dates) == 0 {
		return result, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT branch_id, date, validated, validated_by, validated_at_ms
		FROM day_validations
		WHERE branch_id = $1 AND date = ANY($2)
	`, branchID, dates)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var v domain.DayValidation
		if err := rows.Scan(&v.BranchID, &v.Date, &v.Validated, &v.ValidatedBy, &v.ValidatedAtMs); err != nil {
			return nil, err
		}
		result[v.Date] = v
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" {
		return store.ErrValidation
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var order domain.Order
	var items, appended, notes []byte
	err := row.Scan(&order.ID, &order.BranchID, &order.OrderNumber, &order.CustomerName, &order.OrderType,
		&items, &appended, &notes, &order.CreatedAtMs, &order.UpdatedAtMs,
		&order.IsPaid, &order.PaymentMethod, &order.CashAmount, &order.GcashAmount, &order.PaidAmount, &order.AmountReceived,
		&order.AllItemsServedAtMs)
	if err != nil {
		return domain.Order{}, err
	}
	if len(items) > 0 {
		if err := json.Unmarshal(items, &order.Items); err != nil {
			return domain.Order{}, err
		}
	}
	if len(appended) > 0 {
		if err := json.Unmarshal(appended, &order.AppendedOrders); err != nil {
			return domain.Order{}, err
		}
	}
	if len(notes) > 0 {
		if err := json.Unmarshal(notes, &order.Notes); err != nil {
			return domain.Order{}, err
		}
	}
	return order, nil
}

func collectOrders(rows *sql.Rows) ([]domain.Order, error) {
	orders := make([]domain.Order, 0, 64)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

func encodeOrderDocs(order domain.Order) ([]byte, []byte, []byte, error) {
	if order.Items == nil {
		order.Items = []domain.OrderItem{}
	}
	if order.AppendedOrders == nil {
		order.AppendedOrders = []domain.AppendedOrder{}
	}
	if order.Notes == nil {
		order.Notes = []string{}
	}
	items, err := json.Marshal(order.Items)
	if err != nil {
		return nil, nil, nil, err
	}
	appended, err := json.Marshal(order.AppendedOrders)
	if err != nil {
		return nil, nil, nil, err
	}
	notes, err := json.Marshal(order.Notes)
	if err != nil {
		return nil, nil, nil, err
	}
	return items, appended, notes, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

