// Package indexer persists committed engine events into a relational store so
// they can be queried by account and type.
package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"stablerisk/core/types"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

var ErrDSNRequired = errors.New("indexer: dsn required")

// EventRecord is one indexed event row.
type EventRecord struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	Sequence     uint64    `gorm:"uniqueIndex;not null"`
	Height       uint64    `gorm:"index;not null"`
	Type         string    `gorm:"size:64;index;not null"`
	Account      string    `gorm:"size:42;index"`
	Counterparty string    `gorm:"size:42;index"`
	Attributes   string    `gorm:"type:text"`
	CreatedAt    time.Time
}

func (EventRecord) TableName() string { return "comptroller_events" }

// Event is the query result shape.
type Event struct {
	ID         string            `json:"id"`
	Sequence   uint64            `json:"sequence"`
	Height     uint64            `json:"height"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// Filter narrows a query. Account matches either side of a transfer.
type Filter struct {
	Account string
	Type    string
	Limit   int
}

// Store indexes events in sqlite or postgres.
type Store struct {
	db *gorm.DB
}

// Open selects the driver from the DSN: postgres:// and postgresql:// URLs and
// key=value strings go to postgres, everything else is treated as sqlite. A
// bare filesystem path is expanded into a WAL-mode sqlite file DSN.
func Open(dsn string) (*Store, error) {
	dialector, err := dialectorFor(dsn)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("indexer: open: %w", err)
	}
	return New(db)
}

// New wraps an existing connection and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("indexer: nil database")
	}
	if err := db.AutoMigrate(&EventRecord{}); err != nil {
		return nil, fmt.Errorf("indexer: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func dialectorFor(dsn string) (gorm.Dialector, error) {
	trimmed := strings.TrimSpace(dsn)
	switch {
	case trimmed == "":
		return nil, ErrDSNRequired
	case strings.HasPrefix(trimmed, "postgres://"), strings.HasPrefix(trimmed, "postgresql://"), strings.Contains(trimmed, "host="):
		return postgres.Open(trimmed), nil
	case trimmed == ":memory:", strings.HasPrefix(trimmed, "file:"):
		return sqlite.Open(trimmed), nil
	default:
		abs, err := filepath.Abs(trimmed)
		if err != nil {
			return nil, fmt.Errorf("indexer: resolve path: %w", err)
		}
		return sqlite.Open(fmt.Sprintf("file:%s?mode=rwc&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", abs)), nil
	}
}

// Record appends the events committed at height in one transaction.
func (s *Store) Record(ctx context.Context, height uint64, evts []*types.Event) error {
	if len(evts) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var last uint64
		if err := tx.Model(&EventRecord{}).Select("COALESCE(MAX(sequence), 0)").Scan(&last).Error; err != nil {
			return fmt.Errorf("indexer: sequence: %w", err)
		}
		rows := make([]EventRecord, 0, len(evts))
		for _, evt := range evts {
			if evt == nil {
				continue
			}
			attrs, err := json.Marshal(evt.Attributes)
			if err != nil {
				return fmt.Errorf("indexer: encode attributes: %w", err)
			}
			last++
			account, counterparty := evt.Participants()
			rows = append(rows, EventRecord{
				ID:           uuid.New(),
				Sequence:     last,
				Height:       height,
				Type:         evt.Type,
				Account:      account,
				Counterparty: counterparty,
				Attributes:   string(attrs),
			})
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Create(&rows).Error
	})
}

// Query returns matching events, newest first.
func (s *Store) Query(ctx context.Context, filter Filter) ([]Event, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	q := s.db.WithContext(ctx).Model(&EventRecord{})
	if account := strings.ToLower(strings.TrimSpace(filter.Account)); account != "" {
		q = q.Where("account = ? OR counterparty = ?", account, account)
	}
	if typ := strings.TrimSpace(filter.Type); typ != "" {
		q = q.Where("type = ?", typ)
	}
	var rows []EventRecord
	if err := q.Order("sequence DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("indexer: query: %w", err)
	}
	out := make([]Event, 0, len(rows))
	for _, row := range rows {
		attrs := map[string]string{}
		if row.Attributes != "" {
			if err := json.Unmarshal([]byte(row.Attributes), &attrs); err != nil {
				return nil, fmt.Errorf("indexer: decode attributes: %w", err)
			}
		}
		out = append(out, Event{
			ID:         row.ID.String(),
			Sequence:   row.Sequence,
			Height:     row.Height,
			Type:       row.Type,
			Attributes: attrs,
			CreatedAt:  row.CreatedAt,
		})
	}
	return out, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
