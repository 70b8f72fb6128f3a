package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dpktjf/dpk-ek-scraper/internal/flight"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SearchResults is the GORM model for stored results
type SearchResults struct {
	gorm.Model
	EntryID    string    `gorm:"column:entry_id;index"`
	JobID      string    `gorm:"column:job_id;index:idx_job_received,priority:1"`
	ResultCode int       `gorm:"column:result"`
	Flights    int       `gorm:"column:flights"`
	Combined   int       `gorm:"column:combined"`
	ReceivedAt time.Time `gorm:"column:received_at;index:idx_job_received,priority:2,sort:desc"`
	Payload    string    `gorm:"column:payload;type:jsonb"`
}

// TableName overrides the default table name
func (SearchResults) TableName() string {
	return "search_results"
}

// OpenPostgres opens a GORM handle on dsn
func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return db, nil
}

// SQLHistory stores results in PostgreSQL through GORM
type SQLHistory struct {
	db  *gorm.DB
	now func() time.Time
}

// NewSQLHistory migrates the results table and returns the history
func NewSQLHistory(ctx context.Context, db *gorm.DB) (*SQLHistory, error) {
	if err := db.WithContext(ctx).AutoMigrate(&SearchResults{}); err != nil {
		return nil, fmt.Errorf("migrate search_results: %w", err)
	}
	return &SQLHistory{db: db, now: time.Now}, nil
}

// Save inserts result
func (h *SQLHistory) Save(ctx context.Context, entryID string, result *flight.SearchResult) error {
	rec, err := newRecord(entryID, result, h.now())
	if err != nil {
		return err
	}
	model := toModel(rec)
	if err := h.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("insert result %s: %w", rec.JobID, err)
	}
	return nil
}

// Latest returns the most recently received result for jobID
func (h *SQLHistory) Latest(ctx context.Context, jobID string) (*flight.SearchResult, error) {
	var model SearchResults
	err := h.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("received_at DESC").
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find result %s: %w", jobID, err)
	}
	return fromModel(model).Result()
}

// Close closes the underlying connection pool
func (h *SQLHistory) Close(context.Context) error {
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toModel(r Record) SearchResults {
	return SearchResults{
		EntryID:    r.EntryID,
		JobID:      r.JobID,
		ResultCode: r.ResultCode,
		Flights:    r.Flights,
		Combined:   r.Combined,
		ReceivedAt: r.ReceivedAt,
		Payload:    string(r.Payload),
	}
}

func fromModel(m SearchResults) Record {
	return Record{
		EntryID:    m.EntryID,
		JobID:      m.JobID,
		ResultCode: m.ResultCode,
		Flights:    m.Flights,
		Combined:   m.Combined,
		ReceivedAt: m.ReceivedAt,
		Payload:    []byte(m.Payload),
	}
}
