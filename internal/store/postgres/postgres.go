package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"stokpilot/backend/internal/domain"
	"stokpilot/backend/internal/store"
	"stokpilot/backend/internal/xid"
)

const defaultLockWait = 3 * time.Second

type Store struct {
	db       *sql.DB
	lockWait time.Duration
}

func New(ctx context.Context, databaseURL string, lockWait time.Duration) (*Store, error) {
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

	return NewWithDB(db, lockWait), nil
}

// NewWithDB wraps an already opened handle.
func NewWithDB(db *sql.DB, lockWait time.Duration) *Store {
	if lockWait <= 0 {
		lockWait = defaultLockWait
	}
	return &Store{db: db, lockWait: lockWait}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// inTx runs fn in a read-committed transaction whose row-lock waits are
// bounded by lockWait. Every lock wait or serialization failure surfaces as
// store.ErrLockTimeout and nothing is committed.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return mapPgError(err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT set_config('lock_timeout', $1, true)`, fmt.Sprintf("%dms", s.lockWait.Milliseconds())); err != nil {
		return mapPgError(err)
	}
	if err := fn(tx); err != nil {
		return mapPgError(err)
	}
	return mapPgError(tx.Commit())
}

func (s *Store) CreateUnit(ctx context.Context, unit domain.Unit) (*domain.Unit, error) {
	unit.Name = strings.TrimSpace(unit.Name)
	if unit.Name == "" {
		return nil, store.ErrValidation
	}
	if unit.ID == "" {
		unit.ID = xid.New("unit")
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO units (id, name) VALUES ($1,$2)`, unit.ID, unit.Name)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: unit %s already exists", store.ErrValidation, unit.Name)
		}
		return nil, err
	}
	return &unit, nil
}

func (s *Store) ListUnits(ctx context.Context) ([]domain.Unit, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM units ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	units := make([]domain.Unit, 0, 8)
	for rows.Next() {
		var unit domain.Unit
		if err := rows.Scan(&unit.ID, &unit.Name); err != nil {
			return nil, err
		}
		units = append(units, unit)
	}
	return units, rows.Err()
}

func (s *Store) CreateItem(ctx context.Context, item domain.Item) (*domain.Item, error) {
	if item.Name == "" || item.CostAmount < 0 {
		return nil, store.ErrValidation
	}
	if item.ID == "" {
		item.ID = xid.New("item")
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO items (id, name, unit_id, cost_amount, active, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$6)
		`, item.ID, item.Name, item.UnitID, item.CostAmount, item.Active, item.CreatedAt); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO stock_balances (item_id, qty, updated_at)
			VALUES ($1, 0, $2)
		`, item.ID, item.CreatedAt)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpdateItem(ctx context.Context, item domain.Item) (*domain.Item, error) {
	err := s.db.QueryRowContext(ctx, `
		UPDATE items
		SET name = $2, unit_id = $3, cost_amount = $4, active = $5, updated_at = now()
		WHERE id = $1
		RETURNING created_at
	`, item.ID, item.Name, item.UnitID, item.CostAmount, item.Active).Scan(&item.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, mapPgError(err)
	}
	item.CreatedAt = item.CreatedAt.UTC()
	return &item, nil
}

func (s *Store) GetItem(ctx context.Context, itemID string) (*domain.Item, error) {
	var item domain.Item
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, unit_id, cost_amount, active, created_at
		FROM items
		WHERE id = $1
	`, itemID).Scan(&item.ID, &item.Name, &item.UnitID, &item.CostAmount, &item.Active, &item.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	item.CreatedAt = item.CreatedAt.UTC()
	return &item, nil
}

func (s *Store) GetItemsByIDs(ctx context.Context, itemIDs []string) (map[string]domain.Item, error) {
	result := make(map[string]domain.Item, len(itemIDs))
	if len(itemIDs) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, unit_id, cost_amount, active, created_at
		FROM items
		WHERE id = ANY($1)
	`, itemIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.Item
		if err := rows.Scan(&item.ID, &item.Name, &item.UnitID, &item.CostAmount, &item.Active, &item.CreatedAt); err != nil {
			return nil, err
		}
		item.CreatedAt = item.CreatedAt.UTC()
		result[item.ID] = item
	}
	return result, rows.Err()
}

func (s *Store) ListItems(ctx context.Context) ([]domain.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, unit_id, cost_amount, active, created_at
		FROM items
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Item, 0, 64)
	for rows.Next() {
		var item domain.Item
		if err := rows.Scan(&item.ID, &item.Name, &item.UnitID, &item.CostAmount, &item.Active, &item.CreatedAt); err != nil {
			return nil, err
		}
		item.CreatedAt = item.CreatedAt.UTC()
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Store) CreateVendor(ctx context.Context, vendor domain.Vendor) (*domain.Vendor, error) {
	if strings.TrimSpace(vendor.Name) == "" {
		return nil, store.ErrValidation
	}
	if vendor.ID == "" {
		vendor.ID = xid.New("vendor")
	}
	if vendor.CreatedAt.IsZero() {
		vendor.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vendors (id, name, phone, created_at)
		VALUES ($1,$2,$3,$4)
	`, vendor.ID, vendor.Name, vendor.Phone, vendor.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &vendor, nil
}

func (s *Store) GetVendor(ctx context.Context, vendorID string) (*domain.Vendor, error) {
	var vendor domain.Vendor
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, phone, created_at FROM vendors WHERE id = $1
	`, vendorID).Scan(&vendor.ID, &vendor.Name, &vendor.Phone, &vendor.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	vendor.CreatedAt = vendor.CreatedAt.UTC()
	return &vendor, nil
}

func (s *Store) ListVendors(ctx context.Context) ([]domain.Vendor, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, phone, created_at FROM vendors ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	vendors := make([]domain.Vendor, 0, 16)
	for rows.Next() {
		var vendor domain.Vendor
		if err := rows.Scan(&vendor.ID, &vendor.Name, &vendor.Phone, &vendor.CreatedAt); err != nil {
			return nil, err
		}
		vendor.CreatedAt = vendor.CreatedAt.UTC()
		vendors = append(vendors, vendor)
	}
	return vendors, rows.Err()
}

func (s *Store) CreateMargin(ctx context.Context, margin domain.MarginConfig) (*domain.MarginConfig, error) {
	if strings.TrimSpace(margin.Name) == "" || margin.Percent < 0 {
		return nil, store.ErrValidation
	}
	if margin.ID == "" {
		margin.ID = xid.New("margin")
	}
	if margin.CreatedAt.IsZero() {
		margin.CreatedAt = time.Now().UTC()
	}
	margin.Active = false
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO margin_configs (id, name, percent, active, created_at)
		VALUES ($1,$2,$3,false,$4)
	`, margin.ID, margin.Name, margin.Percent, margin.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &margin, nil
}

func (s *Store) GetMargin(ctx context.Context, marginID string) (*domain.MarginConfig, error) {
	var margin domain.MarginConfig
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, percent, active, created_at FROM margin_configs WHERE id = $1
	`, marginID).Scan(&margin.ID, &margin.Name, &margin.Percent, &margin.Active, &margin.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	margin.CreatedAt = margin.CreatedAt.UTC()
	return &margin, nil
}

func (s *Store) ListMargins(ctx context.Context) ([]domain.MarginConfig, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, percent, active, created_at FROM margin_configs ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	margins := make([]domain.MarginConfig, 0, 8)
	for rows.Next() {
		var margin domain.MarginConfig
		if err := rows.Scan(&margin.ID, &margin.Name, &margin.Percent, &margin.Active, &margin.CreatedAt); err != nil {
			return nil, err
		}
		margin.CreatedAt = margin.CreatedAt.UTC()
		margins = append(margins, margin)
	}
	return margins, rows.Err()
}

func (s *Store) ActivateMargin(ctx context.Context, marginID string) (*domain.MarginConfig, error) {
	var margin domain.MarginConfig
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			SELECT id, name, percent, created_at FROM margin_configs WHERE id = $1 FOR UPDATE
		`, marginID).Scan(&margin.ID, &margin.Name, &margin.Percent, &margin.CreatedAt)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrNotFound
			}
			return err
		}
		// Two statements so the single-active index never sees two rows.
		if _, err := tx.ExecContext(ctx, `UPDATE margin_configs SET active = false WHERE active AND id <> $1`, marginID); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE margin_configs SET active = true WHERE id = $1`, marginID)
		return err
	})
	if err != nil {
		return nil, err
	}
	margin.Active = true
	margin.CreatedAt = margin.CreatedAt.UTC()
	return &margin, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1
			AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrValidation
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: username already exists", store.ErrValidation)
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrValidation
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
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

// uniqueSorted returns the distinct non-empty ids in lock order.
func uniqueSorted(ids []string) []string {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// mapPgError translates the postgres codes the engine cares about into store
// sentinels. Everything else passes through.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "55P03", "40001", "40P01":
		return fmt.Errorf("%w: %s", store.ErrLockTimeout, pgErr.Message)
	case "23503":
		return fmt.Errorf("%w: %s", store.ErrNotFound, pgErr.ConstraintName)
	case "23505":
		return fmt.Errorf("%w: %s", store.ErrValidation, pgErr.ConstraintName)
	case "23514":
		switch {
		case pgErr.ConstraintName == "stock_balances_non_negative":
			return fmt.Errorf("%w: %s", store.ErrInsufficientStock, pgErr.Message)
		case strings.HasSuffix(pgErr.ConstraintName, "_bounds"):
			return fmt.Errorf("%w: %s", store.ErrQuantityExceeded, pgErr.ConstraintName)
		}
		return fmt.Errorf("%w: %s", store.ErrValidation, pgErr.ConstraintName)
	}
	return err
}
