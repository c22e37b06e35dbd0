package store

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"vaultline/internal/domain"
)

// sessionRow is the shiv_sessions table. The secret is stored hex encoded so
// the schema stays portable between SQLite and Postgres.
type sessionRow struct {
	KID        string    `gorm:"column:kid;primaryKey;size:64"`
	Secret     string    `gorm:"column:secret;not null"`
	UserID     string    `gorm:"column:user_id;not null;index"`
	DeviceInfo string    `gorm:"column:device_info"`
	LastSeenAt time.Time `gorm:"column:last_seen_at;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;not null"`
}

func (sessionRow) TableName() string { return "shiv_sessions" }

func rowFromRecord(rec domain.SessionRecord) sessionRow {
	return sessionRow{
		KID:        string(rec.KID),
		Secret:     hex.EncodeToString(rec.Secret),
		UserID:     string(rec.UserID),
		DeviceInfo: rec.DeviceInfo,
		LastSeenAt: rec.LastSeenAt,
		CreatedAt:  rec.CreatedAt,
	}
}

func (r sessionRow) record() (domain.SessionRecord, error) {
	secret, err := hex.DecodeString(r.Secret)
	if err != nil {
		return domain.SessionRecord{}, fmt.Errorf("store: corrupt secret for %s: %w", r.KID, err)
	}
	return domain.SessionRecord{
		KID:        domain.KID(r.KID),
		Secret:     secret,
		UserID:     domain.UserID(r.UserID),
		DeviceInfo: r.DeviceInfo,
		LastSeenAt: r.LastSeenAt,
		CreatedAt:  r.CreatedAt,
	}, nil
}

// OpenDatabase connects to driver ("sqlite" or "postgres") at dsn and
// migrates the session schema.
func OpenDatabase(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite", "":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("store: unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", driver, err)
	}
	if err := db.AutoMigrate(&sessionRow{}); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return db, nil
}

// CloseDatabase releases the pool behind db.
func CloseDatabase(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GormSessionRepository is the durable SessionRepository.
type GormSessionRepository struct {
	db *gorm.DB
}

// NewGormSessionRepository wraps an opened and migrated database.
func NewGormSessionRepository(db *gorm.DB) *GormSessionRepository {
	return &GormSessionRepository{db: db}
}

// Upsert inserts rec or replaces every column of the existing row.
func (r *GormSessionRepository) Upsert(ctx context.Context, rec domain.SessionRecord) error {
	row := rowFromRecord(rec)
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "kid"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"secret", "user_id", "device_info", "last_seen_at", "created_at",
		}),
	}).Create(&row).Error
}

// FindByKID returns the record for kid; ok is false when there is none.
func (r *GormSessionRepository) FindByKID(ctx context.Context, kid domain.KID) (domain.SessionRecord, bool, error) {
	var row sessionRow
	err := r.db.WithContext(ctx).Where("kid = ?", string(kid)).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.SessionRecord{}, false, nil
	}
	if err != nil {
		return domain.SessionRecord{}, false, err
	}
	rec, err := row.record()
	if err != nil {
		return domain.SessionRecord{}, false, err
	}
	return rec, true, nil
}

// Touch sets last_seen_at. A missing row is not an error.
func (r *GormSessionRepository) Touch(ctx context.Context, kid domain.KID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&sessionRow{}).
		Where("kid = ?", string(kid)).
		Update("last_seen_at", at).Error
}

func (r *GormSessionRepository) DeleteByKID(ctx context.Context, kid domain.KID) error {
	return r.db.WithContext(ctx).Where("kid = ?", string(kid)).Delete(&sessionRow{}).Error
}

// DeleteByUser removes the user's rows in one transaction and returns their
// KIDs so the caller can invalidate cached secrets.
func (r *GormSessionRepository) DeleteByUser(ctx context.Context, userID domain.UserID) ([]domain.KID, error) {
	var kids []domain.KID
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var raw []string
		if err := tx.Model(&sessionRow{}).
			Where("user_id = ?", string(userID)).
			Pluck("kid", &raw).Error; err != nil {
			return err
		}
		if len(raw) == 0 {
			return nil
		}
		if err := tx.Where("kid IN ?", raw).Delete(&sessionRow{}).Error; err != nil {
			return err
		}
		for _, k := range raw {
			kids = append(kids, domain.KID(k))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return kids, nil
}

// ListByUser returns the user's records, most recently seen first.
func (r *GormSessionRepository) ListByUser(ctx context.Context, userID domain.UserID) ([]domain.SessionRecord, error) {
	var rows []sessionRow
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", string(userID)).
		Order("last_seen_at DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.SessionRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Compile-time assertion that GormSessionRepository implements domain.SessionRepository.
var _ domain.SessionRepository = (*GormSessionRepository)(nil)
