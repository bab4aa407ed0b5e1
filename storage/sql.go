package storage

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/mrlauy/ghome-bridge/device"
)

type stateRecord struct {
	DeviceID  string         `gorm:"primaryKey"`
	State     datatypes.JSON `gorm:"not null"`
	UpdatedAt time.Time
}

func (stateRecord) TableName() string { return "device_states" }

// SQLPersister stores device state in the device_states table of a sqlite or postgres database.
type SQLPersister struct {
	db *gorm.DB
}

func OpenSQL(driver, dsn string) (*SQLPersister, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}

	gormLogger := logger.New(
		log.NewLogLogger(log.Default().Handler(), log.LevelWarn),
		logger.Config{
			SlowThreshold:             2 * time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	return NewSQLPersister(db)
}

// NewSQLPersister migrates the state table on an open connection.
func NewSQLPersister(db *gorm.DB) (*SQLPersister, error) {
	if err := db.AutoMigrate(&stateRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate device_states: %w", err)
	}
	return &SQLPersister{db: db}, nil
}

func (s *SQLPersister) Load(ctx context.Context, id string) (device.State, bool, error) {
	var record stateRecord
	err := s.db.WithContext(ctx).First(&record, &stateRecord{DeviceID: id}).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	state, err := decode(id, record.State)
	if err != nil {
		return nil, false, err
	}
	return state, true, nil
}

func (s *SQLPersister) Save(ctx context.Context, id string, state device.State) error {
	data, err := encode(state)
	if err != nil {
		return err
	}

	record := &stateRecord{DeviceID: id, State: datatypes.JSON(data), UpdatedAt: time.Now().UTC()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "device_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"state", "updated_at"}),
	}).Create(record).Error
}

func (s *SQLPersister) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
