package models

import (
	"time"
)

// 注意：
// - 与 db/migrations/0001_init_up.sql 保持一致
// - 不使用 gorm.Model，显式声明每个字段，避免隐式 DeletedAt

// UserTTNSettings 映射 user_ttn_settings 表（用户自带的 TTN 凭证）
type UserTTNSettings struct {
	UserID        string    `gorm:"column:user_id;type:text;primaryKey"`
	ApplicationID *string   `gorm:"column:application_id;type:text"`
	Cluster       *string   `gorm:"column:cluster;type:text"`
	APIKey        *string   `gorm:"column:api_key;type:text"`
	Enabled       bool      `gorm:"column:enabled;not null;default:true"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (UserTTNSettings) TableName() string { return "user_ttn_settings" }

// TTNConnection 映射 ttn_connections 表（组织级集成配置，同时承担 application_id -> org 映射）
type TTNConnection struct {
	ID            int64     `gorm:"column:id;primaryKey;autoIncrement"`
	OrgID         string    `gorm:"column:org_id;type:text;not null;uniqueIndex"`
	ApplicationID *string   `gorm:"column:application_id;type:text"`
	Cluster       *string   `gorm:"column:cluster;type:text"`
	APIKey        *string   `gorm:"column:api_key;type:text"`
	WebhookSecret *string   `gorm:"column:webhook_secret;type:text"`
	Enabled       bool      `gorm:"column:enabled;not null;default:true"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (TTNConnection) TableName() string { return "ttn_connections" }
