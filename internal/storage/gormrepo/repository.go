package gormrepo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/frostguard/lora-emulator/internal/settings"
	"github.com/frostguard/lora-emulator/internal/storage/models"
)

// Repository 基于 GORM 的集成配置存储，实现 settings.Store。
type Repository struct {
	db *gorm.DB
}

var _ settings.Store = (*Repository)(nil)

// New 返回一个使用给定 *gorm.DB 的配置存储。
func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// OpenFromPool 复用 pgx 连接池构造 *gorm.DB，避免维护两套连接。
func OpenFromPool(pool *pgxpool.Pool) (*gorm.DB, error) {
	sqlDB := stdlib.OpenDBFromPool(pool)
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm: %w", err)
	}
	return db, nil
}

// UserSettings 读取用户级 TTN 配置，不存在返回 (nil, nil)。
func (r *Repository) UserSettings(ctx context.Context, userID string) (*settings.IntegrationSettings, error) {
	var row models.UserTTNSettings
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &settings.IntegrationSettings{
		ApplicationID: deref(row.ApplicationID),
		Cluster:       deref(row.Cluster),
		APIKey:        deref(row.APIKey),
		Enabled:       row.Enabled,
	}, nil
}

// OrgSettings 读取组织级 TTN 配置，不存在返回 (nil, nil)。
func (r *Repository) OrgSettings(ctx context.Context, orgID string) (*settings.IntegrationSettings, error) {
	var row models.TTNConnection
	err := r.db.WithContext(ctx).Where("org_id = ?", orgID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return connectionSettings(&row), nil
}

// SaveUserSettings 插入或更新用户级配置。
func (r *Repository) SaveUserSettings(ctx context.Context, userID string, s settings.IntegrationSettings) error {
	row := models.UserTTNSettings{
		UserID:        userID,
		ApplicationID: ptr(s.ApplicationID),
		Cluster:       ptr(s.Cluster),
		APIKey:        ptr(s.APIKey),
		Enabled:       s.Enabled,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"application_id", "cluster", "api_key", "enabled", "updated_at"}),
		}).
		Create(&row).Error
}

// SaveOrgSettings 插入或更新组织级配置。
func (r *Repository) SaveOrgSettings(ctx context.Context, orgID string, s settings.IntegrationSettings) error {
	row := models.TTNConnection{
		OrgID:         orgID,
		ApplicationID: ptr(s.ApplicationID),
		Cluster:       ptr(s.Cluster),
		APIKey:        ptr(s.APIKey),
		WebhookSecret: ptr(s.WebhookSecret),
		Enabled:       s.Enabled,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "org_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"application_id", "cluster", "api_key", "webhook_secret", "enabled", "updated_at"}),
		}).
		Create(&row).Error
}

func connectionSettings(row *models.TTNConnection) *settings.IntegrationSettings {
	return &settings.IntegrationSettings{
		ApplicationID: deref(row.ApplicationID),
		Cluster:       deref(row.Cluster),
		APIKey:        deref(row.APIKey),
		WebhookSecret: deref(row.WebhookSecret),
		Enabled:       row.Enabled,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func ptr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
