package store

import (
	"errors"

	"medikiosk/internal/medicine"
)

var (
	// ErrSlotNotFound is returned when a slot id is not provisioned.
	ErrSlotNotFound = errors.New("slot not found")
	// ErrOutOfStock is returned when a decrement would take stock below zero.
	ErrOutOfStock = errors.New("slot is out of stock")
	// ErrInvalidStockCount is returned when a refill count is negative.
	ErrInvalidStockCount = errors.New("stock count must not be negative")
	// ErrSubscriptionNotFound is returned for an unknown push endpoint.
	ErrSubscriptionNotFound = errors.New("subscription not found")
)

// Stats summarizes the dispense history.
type Stats struct {
	TotalPatients      int                   `json:"totalUsers"`
	TodayPatients      int                   `json:"todayUsers"`
	DispensedByKind    map[medicine.Kind]int `json:"medicineDispensed"`
	TotalDispensed     int                   `json:"totalDispensed"`
	SimulatedDispensed int                   `json:"simulatedDispensed"`
}
