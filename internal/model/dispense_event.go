package model

import (
	"time"

	"medikiosk/internal/medicine"
)

// DispenseEvent is an append-only history row written once per confirmed dispense.
type DispenseEvent struct {
	ID           string        `gorm:"primaryKey;size:36" json:"eventId"`
	SlotID       string        `gorm:"index;size:32;not null" json:"slotId"`
	PatientName  string        `gorm:"size:256;not null" json:"patientName"`
	PatientPhone string        `gorm:"index;size:64;not null" json:"patientPhone"`
	Kind         medicine.Kind `gorm:"index;size:32;not null" json:"medicineKind"`
	DispensedAt  time.Time     `gorm:"index;not null" json:"dispensedAt"`
	Simulated    bool          `gorm:"not null;default:false" json:"simulated"`
}
