// Package postgres implements store.Store on Postgres via gorm: one row
// type per domain object, auto-migrated on open.
package postgres

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/astroleaf/ecoflux-exchange/internal/domain"
	"github.com/astroleaf/ecoflux-exchange/internal/engineerrors"
)

// orderRow is the durable row shape for a domain.Order.
type orderRow struct {
	ID                    string `gorm:"primaryKey;type:varchar(36)"`
	Side                  string `gorm:"type:varchar(10);index"`
	Category              string `gorm:"type:varchar(20);index"`
	Quantity              float64
	LimitPrice            float64
	UserID                string `gorm:"type:varchar(36);index"`
	State                 string `gorm:"type:varchar(20);index"`
	MatchedWith           string `gorm:"type:varchar(36)"`
	ContractID            string `gorm:"type:varchar(36);index"`
	ExecutionLatencyNanos int64
	CreatedAt             time.Time `gorm:"index"`
	UpdatedAt             time.Time
}

func (orderRow) TableName() string { return "orders" }

// contractRow is the durable row shape for a domain.Contract.
type contractRow struct {
	ID                     string `gorm:"primaryKey;type:varchar(36)"`
	BuyerUserID            string `gorm:"type:varchar(36);index"`
	SellerUserID           string `gorm:"type:varchar(36);index"`
	Category               string `gorm:"type:varchar(20);index"`
	Quantity               float64
	ExecutionPrice         float64
	TotalValue             float64
	TxHash                 string `gorm:"type:varchar(80);index"`
	State                  string `gorm:"type:varchar(20);index"`
	Verification           string `gorm:"type:varchar(20)"`
	CreatedAt              time.Time
	DeployedAt             *time.Time
	ExecutedAt             *time.Time
	ExecutionDurationNanos int64
	GasUsed                float64
	FailureReason          string `gorm:"type:text"`
}

func (contractRow) TableName() string { return "contracts" }

// Store is the durable gorm-backed implementation of store.Store.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// New opens a Postgres connection on dsn and migrates the order/contract
// tables.
func New(dsn string, logger *zap.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, engineerrors.Wrap(err, engineerrors.Conflict, "failed to open postgres store")
	}
	if err := db.AutoMigrate(&orderRow{}, &contractRow{}); err != nil {
		return nil, engineerrors.Wrap(err, engineerrors.Conflict, "failed to migrate store schema")
	}
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) SaveOrder(ctx context.Context, o *domain.Order) error {
	row := orderRow{
		ID: o.ID, Side: string(o.Side), Category: string(o.Category),
		Quantity: o.Quantity, LimitPrice: o.LimitPrice, UserID: o.UserID,
		State: string(o.State), MatchedWith: o.MatchedWith, ContractID: o.ContractID,
		ExecutionLatencyNanos: o.ExecutionLatencyNanos, CreatedAt: o.CreatedAt, UpdatedAt: o.UpdatedAt,
	}
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		s.logger.Error("failed to persist order", zap.String("order_id", o.ID), zap.Error(err))
		return engineerrors.Wrap(err, engineerrors.Conflict, "failed to persist order")
	}
	return nil
}

func (s *Store) SaveContract(ctx context.Context, c *domain.Contract) error {
	row := contractRow{
		ID: c.ID, BuyerUserID: c.BuyerUserID, SellerUserID: c.SellerUserID,
		Category: string(c.Category), Quantity: c.Quantity, ExecutionPrice: c.ExecutionPrice,
		TotalValue: c.TotalValue, TxHash: c.TxHash, State: string(c.State),
		Verification: string(c.Verification), CreatedAt: c.CreatedAt, DeployedAt: c.DeployedAt,
		ExecutedAt: c.ExecutedAt, ExecutionDurationNanos: c.ExecutionDurationNanos,
		GasUsed: c.GasUsed, FailureReason: c.FailureReason,
	}
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		s.logger.Error("failed to persist contract", zap.String("contract_id", c.ID), zap.Error(err))
		return engineerrors.Wrap(err, engineerrors.Conflict, "failed to persist contract")
	}
	return nil
}

func (s *Store) LoadOpenOrders(ctx context.Context) ([]*domain.Order, error) {
	var rows []orderRow
	if err := s.db.WithContext(ctx).Where("state IN ?", []string{"pending", "matched"}).Find(&rows).Error; err != nil {
		return nil, engineerrors.Wrap(err, engineerrors.Conflict, "failed to load open orders")
	}
	out := make([]*domain.Order, 0, len(rows))
	for _, r := range rows {
		out = append(out, &domain.Order{
			ID: r.ID, Side: domain.Side(r.Side), Category: domain.Category(r.Category),
			Quantity: r.Quantity, LimitPrice: r.LimitPrice, UserID: r.UserID,
			State: domain.OrderState(r.State), MatchedWith: r.MatchedWith, ContractID: r.ContractID,
			ExecutionLatencyNanos: r.ExecutionLatencyNanos, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
		})
	}
	return out, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
