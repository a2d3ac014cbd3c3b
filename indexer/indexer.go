// Package indexer persists committed ledger events to a SQL database and keeps
// queryable projections of payments and purchases.
//
// The ledger is rebuilt from genesis on every start, so each indexer opened
// on a database begins a new run. Records are keyed by run and queries only
// see the current one; earlier runs stay in the database untouched.
package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/vorpalengineering/usdc-market/chain"
	"github.com/vorpalengineering/usdc-market/fees"
	"github.com/vorpalengineering/usdc-market/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// RunRecord is one node lifetime on the database.
type RunRecord struct {
	ID        uint      `gorm:"primaryKey"`
	StartedAt time.Time `gorm:"not null"`
}

type EventRecord struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	RunID     uint      `gorm:"uniqueIndex:idx_event_run_log;not null" json:"-"`
	Block     uint64    `gorm:"index;not null" json:"block"`
	LogIndex  uint64    `gorm:"uniqueIndex:idx_event_run_log;not null" json:"logIndex"`
	Timestamp uint64    `gorm:"not null" json:"timestamp"`
	Contract  string    `gorm:"size:42;index;not null" json:"contract"`
	Name      string    `gorm:"size:64;index;not null" json:"name"`
	Data      string    `gorm:"type:text;not null" json:"data"` // event as JSON
	CreatedAt time.Time `json:"-"`
}

type PaymentRecord struct {
	RunID       uint            `gorm:"primaryKey;autoIncrement:false" json:"-"`
	PaymentID   string          `gorm:"primaryKey;size:66;not null" json:"paymentId"`
	Sender      string          `gorm:"size:42;index;not null" json:"sender"`
	Recipient   string          `gorm:"size:42;index;not null" json:"recipient"`
	Amount      decimal.Decimal `gorm:"type:text;not null" json:"amount"`      // USDC
	ProtocolFee decimal.Decimal `gorm:"type:text;not null" json:"protocolFee"` // USDC
	Block       uint64          `gorm:"not null" json:"block"`
	Timestamp   uint64          `gorm:"not null" json:"timestamp"`
	CreatedAt   time.Time       `json:"-"`
}

type PurchaseRecord struct {
	RunID      uint            `gorm:"primaryKey;autoIncrement:false" json:"-"`
	PurchaseID string          `gorm:"primaryKey;size:66;not null" json:"purchaseId"`
	ListingID  string          `gorm:"size:66;index;not null" json:"listingId"`
	Buyer      string          `gorm:"size:42;index;not null" json:"buyer"`
	Quantity   uint64          `gorm:"not null" json:"quantity"`
	TotalPrice decimal.Decimal `gorm:"type:text;not null" json:"totalPrice"` // USDC
	PaymentID  string          `gorm:"size:66;not null" json:"paymentId"`
	Block      uint64          `gorm:"not null" json:"block"`
	Timestamp  uint64          `gorm:"not null" json:"timestamp"`
	CreatedAt  time.Time       `json:"-"`
}

// EventFilter narrows Events. Zero fields match everything.
type EventFilter struct {
	Name      string
	Contract  common.Address
	FromBlock uint64
	Limit     int
}

type Indexer struct {
	db     *gorm.DB
	run    uint
	logger zerolog.Logger
}

// Open connects to the SQLite database at dsn and migrates the schema.
func Open(dsn string, logger zerolog.Logger) (*Indexer, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps :memory: databases shared
	sqlDB.SetMaxOpenConns(1)

	return New(db, logger)
}

// New wraps an open gorm handle, migrates the schema and starts a new run.
func New(db *gorm.DB, logger zerolog.Logger) (*Indexer, error) {
	if err := db.AutoMigrate(
		&RunRecord{},
		&EventRecord{},
		&PaymentRecord{},
		&PurchaseRecord{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	run := RunRecord{StartedAt: time.Now().UTC()}
	if err := db.Create(&run).Error; err != nil {
		return nil, fmt.Errorf("failed to start run: %w", err)
	}

	logger = logger.With().Str("component", "indexer").Uint("run", run.ID).Logger()
	logger.Debug().Msg("indexer run started")
	return &Indexer{
		db:     db,
		run:    run.ID,
		logger: logger,
	}, nil
}

// Run is the id of the run this indexer records into.
func (i *Indexer) Run() uint {
	return i.run
}

// Attach subscribes the indexer to c and returns the unsubscribe func.
func (i *Indexer) Attach(c *chain.Chain) func() {
	return c.Subscribe(i.HandleLog)
}

// HandleLog records l, logging failures instead of returning them so it can
// be used directly as a ledger subscriber.
func (i *Indexer) HandleLog(l chain.Log) {
	if err := i.Record(context.Background(), l); err != nil {
		i.logger.Error().
			Err(err).
			Uint64("block", l.Block).
			Str("event", l.Event.EventName()).
			Msg("failed to index event")
	}
}

// Record stores l and updates the projections it touches in one database
// transaction. Recording the same log index twice within a run is a no-op.
func (i *Indexer) Record(ctx context.Context, l chain.Log) error {
	data, err := json.Marshal(l.Event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	return i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&EventRecord{}).Where("run_id = ? AND log_index = ?", i.run, l.Index).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}

		if err := tx.Create(&EventRecord{
			RunID:     i.run,
			Block:     l.Block,
			LogIndex:  l.Index,
			Timestamp: l.Timestamp,
			Contract:  l.Address.Hex(),
			Name:      l.Event.EventName(),
			Data:      string(data),
		}).Error; err != nil {
			return err
		}

		switch ev := l.Event.(type) {
		case types.PaymentProcessed:
			return tx.Create(&PaymentRecord{
				RunID:       i.run,
				PaymentID:   ev.PaymentID.Hex(),
				Sender:      ev.Sender.Hex(),
				Recipient:   ev.Recipient.Hex(),
				Amount:      usdc(ev.Amount),
				ProtocolFee: usdc(ev.ProtocolFee),
				Block:       l.Block,
				Timestamp:   l.Timestamp,
			}).Error
		case types.PurchaseCompleted:
			return tx.Create(&PurchaseRecord{
				RunID:      i.run,
				PurchaseID: ev.PurchaseID.Hex(),
				ListingID:  ev.ListingID.Hex(),
				Buyer:      ev.Buyer.Hex(),
				Quantity:   ev.Quantity,
				TotalPrice: usdc(ev.TotalPrice),
				PaymentID:  ev.PaymentID.Hex(),
				Block:      l.Block,
				Timestamp:  l.Timestamp,
			}).Error
		}
		return nil
	})
}

func usdc(amount *big.Int) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -fees.USDCDecimals)
}

func (i *Indexer) Events(ctx context.Context, filter EventFilter) ([]EventRecord, error) {
	query := i.db.WithContext(ctx).Model(&EventRecord{}).Where("run_id = ?", i.run)
	if filter.Name != "" {
		query = query.Where("name = ?", filter.Name)
	}
	if filter.Contract != (common.Address{}) {
		query = query.Where("contract = ?", filter.Contract.Hex())
	}
	if filter.FromBlock > 0 {
		query = query.Where("block >= ?", filter.FromBlock)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var records []EventRecord
	if err := query.Order("log_index asc").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	return records, nil
}

func (i *Indexer) Payment(ctx context.Context, id common.Hash) (*PaymentRecord, error) {
	var record PaymentRecord
	err := i.db.WithContext(ctx).Where("run_id = ? AND payment_id = ?", i.run, id.Hex()).First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (i *Indexer) PaymentsBySender(ctx context.Context, sender common.Address) ([]PaymentRecord, error) {
	var records []PaymentRecord
	err := i.db.WithContext(ctx).
		Where("run_id = ? AND sender = ?", i.run, sender.Hex()).
		Order("block asc").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	return records, nil
}

func (i *Indexer) PurchasesByBuyer(ctx context.Context, buyer common.Address) ([]PurchaseRecord, error) {
	var records []PurchaseRecord
	err := i.db.WithContext(ctx).
		Where("run_id = ? AND buyer = ?", i.run, buyer.Hex()).
		Order("block asc").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query purchases: %w", err)
	}
	return records, nil
}

func (i *Indexer) Close() error {
	sqlDB, err := i.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
