package model

import (
	"time"

	"medikiosk/internal/medicine"
)

// MedicineSlot is one physical dispensing channel and its stock counter.
type MedicineSlot struct {
	ID             string        `gorm:"primaryKey;size:32" json:"slotId"`
	Kind           medicine.Kind `gorm:"uniqueIndex;size:32;not null" json:"medicineKind"`
	DisplayName    string        `gorm:"size:128;not null" json:"displayName"`
	StockCount     int           `gorm:"not null;check:stock_count >= 0" json:"stockCount"`
	LastRefilledAt time.Time     `gorm:"not null" json:"lastRefilledAt"`
}

// MotorNumber is the 1-based device channel driving this slot.
func (s MedicineSlot) MotorNumber() int {
	return medicine.MotorNumber(s.Kind)
}
