// Package store persists invoice entries in PostgreSQL through gorm.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"intake/internal/logger"
	"intake/pkg/services"
)

// InvoiceRow is the database representation of an invoice entry.
type InvoiceRow struct {
	ID          string    `gorm:"primaryKey;type:varchar(36)"`
	ReceivedAt  time.Time `gorm:"index"`
	Sender      string    `gorm:"index"`
	MessageID   string
	MediaID     string
	Supplier    string
	Date        string
	TotalAmount *float64
	Currency    string
	CreatedAt   time.Time
}

// TableName keeps the table name stable regardless of gorm naming strategy.
func (InvoiceRow) TableName() string {
	return "invoices"
}

// PostgresSink stores entries in the invoices table.
type PostgresSink struct {
	db  *gorm.DB
	log zerolog.Logger
}

var _ services.RecordSink = (*PostgresSink)(nil)

// OpenPostgres connects to databaseURL and migrates the invoices table.
func OpenPostgres(databaseURL string) (*PostgresSink, error) {
	const op = "OpenPostgres"

	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("%s: failed to connect to database: %w", op, err)
	}

	return NewPostgresSink(db)
}

// NewPostgresSink wraps an open gorm connection and migrates the schema.
func NewPostgresSink(db *gorm.DB) (*PostgresSink, error) {
	const op = "NewPostgresSink"

	if err := db.AutoMigrate(&InvoiceRow{}); err != nil {
		return nil, fmt.Errorf("%s: failed to migrate invoices table: %w", op, err)
	}

	return &PostgresSink{
		db:  db,
		log: logger.WithComponent("postgres"),
	}, nil
}

// Save inserts the entry.
func (s *PostgresSink) Save(ctx context.Context, entry services.InvoiceEntry) error {
	const op = "Save"

	row := toRow(entry)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("%s: failed to insert invoice %s: %w", op, entry.ID, err)
	}

	s.log.Info().
		Str("entry_id", entry.ID).
		Msg("Invoice entry stored")
	return nil
}

// Close releases the underlying connection pool.
func (s *PostgresSink) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toRow(entry services.InvoiceEntry) InvoiceRow {
	row := InvoiceRow{
		ID:         entry.ID,
		ReceivedAt: entry.ReceivedAt,
		Sender:     entry.Sender,
		MessageID:  entry.MessageID,
		MediaID:    entry.MediaID,
		Supplier:   entry.Record.Supplier,
		Date:       entry.Record.Date,
		Currency:   entry.Record.Currency,
	}
	if entry.Record.TotalAmount != nil {
		amount := *entry.Record.TotalAmount
		row.TotalAmount = &amount
	}
	return row
}
