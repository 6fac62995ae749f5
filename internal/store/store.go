// Package store persists user settings, grid states and positions. It backs
// onto SQLite by default and PostgreSQL when the DSN says so; multi-row
// updates that must move together run inside a single transaction.
package store

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"gridbot/pkg/types"
)

// defaultOpTimeout bounds every store operation so a wedged database cannot
// stall a decision step indefinitely.
const defaultOpTimeout = 5 * time.Second

// Store wraps the database handle.
type Store struct {
	db        *gorm.DB
	logger    *slog.Logger
	opTimeout time.Duration
}

// Open connects to the database named by dsn and migrates the schema.
// A dsn starting with postgres:// or postgresql:// selects PostgreSQL;
// everything else is a SQLite file path.
func Open(dsn string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, &types.StoreError{Op: "open", Err: err}
	}

	if err := db.AutoMigrate(&userSettingsRow{}, &gridStateRow{}, &positionRow{}); err != nil {
		return nil, &types.StoreError{Op: "migrate", Err: err}
	}

	logger.Info("store ready", "dialect", dialector.Name())
	return &Store{db: db, logger: logger, opTimeout: defaultOpTimeout}, nil
}

// session returns a handle whose queries carry the per-operation deadline.
// The caller must invoke cancel once the operation finishes.
func (s *Store) session() (*gorm.DB, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
	return s.db.WithContext(ctx), cancel
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return &types.StoreError{Op: "close", Err: err}
	}
	return sqlDB.Close()
}

// ————————————————————————————————————————————————————————————————————————
// User settings
// ————————————————————————————————————————————————————————————————————————

// FindUserSettings returns the settings for a wallet, or (nil, nil) when the
// wallet is unknown.
func (s *Store) FindUserSettings(wallet types.WalletAddress) (*types.UserSettings, error) {
	db, cancel := s.session()
	defer cancel()
	var row userSettingsRow
	err := db.First(&row, "wallet_address = ?", wallet.String()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &types.StoreError{Op: "find user settings", Err: err}
	}
	us, err := settingsFromRow(&row)
	if err != nil {
		return nil, &types.StoreError{Op: "find user settings", Err: err}
	}
	return us, nil
}

// SaveUserSettings upserts the settings document keyed by wallet address.
func (s *Store) SaveUserSettings(us *types.UserSettings) error {
	row, err := settingsToRow(us)
	if err != nil {
		return &types.StoreError{Op: "save user settings", Err: err}
	}
	db, cancel := s.session()
	defer cancel()
	if err := db.Save(row).Error; err != nil {
		return &types.StoreError{Op: "save user settings", Err: err}
	}
	return nil
}

// AllUserSettings returns every stored settings document.
func (s *Store) AllUserSettings() ([]types.UserSettings, error) {
	db, cancel := s.session()
	defer cancel()
	var rows []userSettingsRow
	if err := db.Find(&rows).Error; err != nil {
		return nil, &types.StoreError{Op: "list user settings", Err: err}
	}
	out := make([]types.UserSettings, 0, len(rows))
	for i := range rows {
		us, err := settingsFromRow(&rows[i])
		if err != nil {
			return nil, &types.StoreError{Op: "list user settings", Err: err}
		}
		out = append(out, *us)
	}
	return out, nil
}

// FindWalletOwningOrder scans all settings documents for the wallet whose
// order list contains orderID. Returns (nil, nil, nil) if no wallet owns it.
func (s *Store) FindWalletOwningOrder(orderID string) (*types.UserSettings, *types.OrderSpec, error) {
	all, err := s.AllUserSettings()
	if err != nil {
		return nil, nil, err
	}
	for i := range all {
		if spec := all[i].FindOrder(orderID); spec != nil {
			return &all[i], spec, nil
		}
	}
	return nil, nil, nil
}

// ————————————————————————————————————————————————————————————————————————
// Grid states
// ————————————————————————————————————————————————————————————————————————

// FindGridState returns the state for (wallet, orderID), or (nil, nil) when
// none exists.
func (s *Store) FindGridState(wallet types.WalletAddress, orderID string) (*types.GridState, error) {
	db, cancel := s.session()
	defer cancel()
	var row gridStateRow
	err := db.First(&row, "wallet_address = ? AND order_id = ?", wallet.String(), orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &types.StoreError{Op: "find grid state", Err: err}
	}
	st, err := stateFromRow(&row)
	if err != nil {
		return nil, &types.StoreError{Op: "find grid state", Err: err}
	}
	return st, nil
}

// FindAllActiveStates returns every grid state with IsActive set.
func (s *Store) FindAllActiveStates() ([]types.GridState, error) {
	db, cancel := s.session()
	defer cancel()
	var rows []gridStateRow
	if err := db.Where("is_active = ?", true).Find(&rows).Error; err != nil {
		return nil, &types.StoreError{Op: "list active states", Err: err}
	}
	return statesFromRows(rows)
}

// FindStatesByWallet returns all grid states for a wallet, active or not.
func (s *Store) FindStatesByWallet(wallet types.WalletAddress) ([]types.GridState, error) {
	db, cancel := s.session()
	defer cancel()
	var rows []gridStateRow
	if err := db.Where("wallet_address = ?", wallet.String()).Find(&rows).Error; err != nil {
		return nil, &types.StoreError{Op: "list states by wallet", Err: err}
	}
	return statesFromRows(rows)
}

func statesFromRows(rows []gridStateRow) ([]types.GridState, error) {
	out := make([]types.GridState, 0, len(rows))
	for i := range rows {
		st, err := stateFromRow(&rows[i])
		if err != nil {
			return nil, &types.StoreError{Op: "decode grid state", Err: err}
		}
		out = append(out, *st)
	}
	return out, nil
}

// SaveGridState upserts the state keyed by (wallet, orderID).
func (s *Store) SaveGridState(st *types.GridState) error {
	db, cancel := s.session()
	defer cancel()
	return s.saveGridState(db, st)
}

func (s *Store) saveGridState(tx *gorm.DB, st *types.GridState) error {
	st.LastUpdated = time.Now()
	row, err := stateToRow(st)
	if err != nil {
		return &types.StoreError{Op: "save grid state", Err: err}
	}
	if err := tx.Save(row).Error; err != nil {
		return &types.StoreError{Op: "save grid state", Err: err}
	}
	return nil
}

// DeleteOrderCascade removes the grid state and every position for
// (wallet, orderID) in a single transaction.
func (s *Store) DeleteOrderCascade(wallet types.WalletAddress, orderID string) error {
	db, cancel := s.session()
	defer cancel()
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("wallet_address = ? AND order_id = ?", wallet.String(), orderID).
			Delete(&positionRow{}).Error; err != nil {
			return err
		}
		return tx.Where("wallet_address = ? AND order_id = ?", wallet.String(), orderID).
			Delete(&gridStateRow{}).Error
	})
	if err != nil {
		return &types.StoreError{Op: "delete order cascade", Err: err}
	}
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Positions
// ————————————————————————————————————————————————————————————————————————

// SavePosition upserts a single position.
func (s *Store) SavePosition(p *types.Position) error {
	db, cancel := s.session()
	defer cancel()
	if err := db.Save(positionToRow(p)).Error; err != nil {
		return &types.StoreError{Op: "save position", Err: err}
	}
	return nil
}

// FindPosition returns a position by ID, or (nil, nil) when it is gone.
func (s *Store) FindPosition(id string) (*types.Position, error) {
	db, cancel := s.session()
	defer cancel()
	var row positionRow
	err := db.First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &types.StoreError{Op: "find position", Err: err}
	}
	return positionFromRow(&row), nil
}

// FindPositionsByIDs loads the positions whose IDs are listed. Missing IDs
// are simply absent from the result; callers reconcile against it.
func (s *Store) FindPositionsByIDs(ids []string) ([]types.Position, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	db, cancel := s.session()
	defer cancel()
	var rows []positionRow
	if err := db.Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, &types.StoreError{Op: "find positions by ids", Err: err}
	}
	out := make([]types.Position, 0, len(rows))
	for i := range rows {
		out = append(out, *positionFromRow(&rows[i]))
	}
	return out, nil
}

// FindPositions returns positions for (wallet, orderID), optionally filtered
// by status, oldest first.
func (s *Store) FindPositions(wallet types.WalletAddress, orderID string, status *types.PositionStatus) ([]types.Position, error) {
	db, cancel := s.session()
	defer cancel()
	q := db.Where("wallet_address = ? AND order_id = ?", wallet.String(), orderID)
	if status != nil {
		q = q.Where("status = ?", string(*status))
	}
	var rows []positionRow
	if err := q.Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, &types.StoreError{Op: "find positions", Err: err}
	}
	out := make([]types.Position, 0, len(rows))
	for i := range rows {
		out = append(out, *positionFromRow(&rows[i]))
	}
	return out, nil
}

// TotalClosedProfit sums the profit of all closed positions for
// (wallet, orderID). This sum is the source of truth for the state's
// running total.
func (s *Store) TotalClosedProfit(wallet types.WalletAddress, orderID string) (decimal.Decimal, error) {
	db, cancel := s.session()
	defer cancel()
	return s.totalClosedProfit(db, wallet, orderID)
}

func (s *Store) totalClosedProfit(tx *gorm.DB, wallet types.WalletAddress, orderID string) (decimal.Decimal, error) {
	var rows []positionRow
	err := tx.Select("profit").
		Where("wallet_address = ? AND order_id = ? AND status = ?",
			wallet.String(), orderID, string(types.StatusClosed)).
		Find(&rows).Error
	if err != nil {
		return decimal.Zero, &types.StoreError{Op: "sum closed profit", Err: err}
	}
	total := decimal.Zero
	for i := range rows {
		total = total.Add(rows[i].Profit)
	}
	return total, nil
}

// DeletePosition removes a position by ID.
func (s *Store) DeletePosition(id string) error {
	db, cancel := s.session()
	defer cancel()
	if err := db.Delete(&positionRow{}, "id = ?", id).Error; err != nil {
		return &types.StoreError{Op: "delete position", Err: err}
	}
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Transactional engine operations
// ————————————————————————————————————————————————————————————————————————

// OpenPositionTx creates a new open position and saves the updated grid state
// atomically. The caller has already appended the position's ID to the
// state's open list.
func (s *Store) OpenPositionTx(p *types.Position, st *types.GridState) error {
	db, cancel := s.session()
	defer cancel()
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(positionToRow(p)).Error; err != nil {
			return err
		}
		return s.saveGridState(tx, st)
	})
	if err != nil {
		return &types.StoreError{Op: "open position", Err: err}
	}
	return nil
}

// ClosePositionTx marks a position closed and saves the updated grid state
// atomically. TotalProfit on the state is recomputed inside the transaction
// from the closed positions table, so it can never drift from the rows.
func (s *Store) ClosePositionTx(p *types.Position, st *types.GridState) error {
	db, cancel := s.session()
	defer cancel()
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(positionToRow(p)).Error; err != nil {
			return err
		}
		total, err := s.totalClosedProfit(tx, st.WalletAddress, st.OrderID)
		if err != nil {
			return err
		}
		st.TotalProfit = total
		return s.saveGridState(tx, st)
	})
	if err != nil {
		return &types.StoreError{Op: "close position", Err: err}
	}
	return nil
}
