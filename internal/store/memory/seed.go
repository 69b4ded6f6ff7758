package memory

import (
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"stokpilot/backend/internal/domain"
)

// seedUsers builds the dev/demo accounts. Passwords come from SEED_*_PASSWORD
// and fall back to fixed dev defaults with a warning. The postgres store never
// uses these.
func seedUsers(logger *zap.Logger) map[string]domain.UserAccount {
	accounts := []struct {
		username string
		envKey   string
		fallback string
		role     string
	}{
		{"admin", "SEED_ADMIN_PASSWORD", "admin123", domain.RoleAdmin},
		{"purchasing", "SEED_PURCHASING_PASSWORD", "purchasing123", domain.RolePurchasing},
		{"warehouse", "SEED_WAREHOUSE_PASSWORD", "warehouse123", domain.RoleWarehouse},
		{"cashier", "SEED_CASHIER_PASSWORD", "cashier123", domain.RoleCashier},
	}

	now := time.Now().UTC()
	users := make(map[string]domain.UserAccount, len(accounts))
	defaulted := make([]string, 0, len(accounts))
	for _, a := range accounts {
		password := os.Getenv(a.envKey)
		if password == "" {
			password = a.fallback
			defaulted = append(defaulted, a.envKey)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			logger.Fatal("hash seed password", zap.String("username", a.username), zap.Error(err))
		}
		users[a.username] = domain.UserAccount{
			Username:  a.username,
			Password:  string(hash),
			Role:      a.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	if len(defaulted) > 0 {
		logger.Warn("memory store is using default dev credentials", zap.Strings("unset", defaulted))
	}
	return users
}

// NewSeeded returns a store with demo master data and one account per role.
// Stock starts at zero; it only enters through receiving.
func NewSeeded(lockWait time.Duration, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := New(lockWait)
	now := time.Now().UTC()

	for _, unit := range []domain.Unit{
		{ID: "unit-pcs", Name: "pcs"},
		{ID: "unit-box", Name: "box"},
		{ID: "unit-kg", Name: "kg"},
	} {
		s.units[unit.ID] = unit
	}
	for _, item := range []domain.Item{
		{ID: "item-mie", Name: "Mie Goreng Instan", UnitID: "unit-pcs", CostAmount: 2800, Active: true},
		{ID: "item-telur", Name: "Telur 10 Butir", UnitID: "unit-box", CostAmount: 23000, Active: true},
		{ID: "item-gula", Name: "Gula 1kg", UnitID: "unit-kg", CostAmount: 15500, Active: true},
		{ID: "item-kopi", Name: "Kopi Sachet", UnitID: "unit-pcs", CostAmount: 1900, Active: true},
	} {
		item.CreatedAt = now
		s.items[item.ID] = item
	}
	s.vendors["vendor-default"] = domain.Vendor{ID: "vendor-default", Name: "Sumber Grosir", CreatedAt: now}
	s.margins["margin-standard"] = domain.MarginConfig{ID: "margin-standard", Name: "standard", Percent: 20, Active: true, CreatedAt: now}
	s.usersByUsername = seedUsers(logger)
	return s
}
