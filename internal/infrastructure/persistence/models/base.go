package models

import (
	"time"

	"github.com/delivery/backend/internal/domain/shared"
)

// TimestampModel provides creation and update timestamps
type TimestampModel struct {
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// VersionedModel adds the optimistic locking column
type VersionedModel struct {
	TimestampModel
	Version int `gorm:"not null;default:1"`
}

// FromDomainVersioned populates the version column from a domain aggregate
func (m *VersionedModel) FromDomainVersioned(v shared.BaseVersioned, createdAt, updatedAt time.Time) {
	m.Version = v.Version
	m.CreatedAt = createdAt
	m.UpdatedAt = updatedAt
}

// ToDomainVersioned returns the domain version holder
func (m *VersionedModel) ToDomainVersioned() shared.BaseVersioned {
	return shared.BaseVersioned{Version: m.Version}
}
