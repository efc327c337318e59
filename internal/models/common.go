// internal/models/common.go
package models

import (
	"time"
)

// Base model with common fields
type BaseModel struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Enums
type AdminRole string

const (
	AdminRoleOwner   AdminRole = "owner"
	AdminRoleCashier AdminRole = "cashier"
)

type NoticeStatus string

const (
	NoticeStatusSuccess NoticeStatus = "success"
	NoticeStatusError   NoticeStatus = "error"
	NoticeStatusQueued  NoticeStatus = "queued"
	NoticeStatusSkipped NoticeStatus = "skipped"
)
