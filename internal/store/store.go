package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"medikiosk/internal/medicine"
	"medikiosk/internal/model"
)

// Store defines the interface for all ledger operations.
type Store interface {
	Seed(ctx context.Context, slots []model.MedicineSlot) error
	GetSlots(ctx context.Context) ([]model.MedicineSlot, error)
	GetSlot(ctx context.Context, slotID string) (*model.MedicineSlot, error)
	SetStock(ctx context.Context, slotID string, count int) (*model.MedicineSlot, error)
	DecrementAndLog(ctx context.Context, slotID string, event *model.DispenseEvent) (*model.MedicineSlot, error)
	ListHistory(ctx context.Context) ([]model.DispenseEvent, error)
	GetStats(ctx context.Context, now time.Time) (*Stats, error)

	UpsertSubscription(ctx context.Context, sub *model.PushSubscription) error
	DeleteSubscription(ctx context.Context, endpoint string) error
	GetSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error)
	ListSubscriptions(ctx context.Context) ([]model.PushSubscription, error)
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db  *gorm.DB
	now func() time.Time

	// mu serializes stock writes. There are only four slots, so one lock is enough.
	mu sync.Mutex
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db, now: time.Now}
}

// DefaultSlots builds the provisioning rows from the catalog, overriding counts
// with initialStock where present.
func DefaultSlots(initialStock map[string]int, now time.Time) []model.MedicineSlot {
	var slots []model.MedicineSlot
	for _, info := range medicine.All() {
		count := info.DefaultStock
		if n, ok := initialStock[string(info.Kind)]; ok && n >= 0 {
			count = n
		}
		slots = append(slots, model.MedicineSlot{
			ID:             info.Kind.SlotID(),
			Kind:           info.Kind,
			DisplayName:    info.DisplayName,
			StockCount:     count,
			LastRefilledAt: now,
		})
	}
	return slots
}

// Seed inserts the slot table once. Slots that already exist keep their counts.
func (s *gormStore) Seed(ctx context.Context, slots []model.MedicineSlot) error {
	if len(slots) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&slots).Error; err != nil {
		return fmt.Errorf("failed to seed slots: %w", err)
	}
	return nil
}

// GetSlots returns every slot ordered by motor number.
func (s *gormStore) GetSlots(ctx context.Context) ([]model.MedicineSlot, error) {
	var slots []model.MedicineSlot
	if err := s.db.WithContext(ctx).Find(&slots).Error; err != nil {
		return nil, fmt.Errorf("failed to load slots: %w", err)
	}
	sort.Slice(slots, func(i, j int) bool {
		return slots[i].MotorNumber() < slots[j].MotorNumber()
	})
	return slots, nil
}

// GetSlot returns a single slot.
func (s *gormStore) GetSlot(ctx context.Context, slotID string) (*model.MedicineSlot, error) {
	return findSlot(s.db.WithContext(ctx), slotID)
}

// SetStock sets an absolute count (refill) and stamps LastRefilledAt.
func (s *gormStore) SetStock(ctx context.Context, slotID string, count int) (*model.MedicineSlot, error) {
	if count < 0 {
		return nil, ErrInvalidStockCount
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var updated *model.MedicineSlot
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.MedicineSlot{}).
			Where("id = ?", slotID).
			UpdateColumns(map[string]any{
				"stock_count":      count,
				"last_refilled_at": s.now(),
			})
		if res.Error != nil {
			return fmt.Errorf("failed to set stock for slot %s: %w", slotID, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", ErrSlotNotFound, slotID)
		}

		slot, err := findSlot(tx, slotID)
		if err != nil {
			return err
		}
		updated = slot
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("slot", slotID).Int("stock", count).Msg("slot refilled")
	return updated, nil
}

// DecrementAndLog removes one unit from the slot and appends the event in a single
// transaction. Either both mutations are committed or neither is.
func (s *gormStore) DecrementAndLog(ctx context.Context, slotID string, event *model.DispenseEvent) (*model.MedicineSlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.DispensedAt.IsZero() {
		event.DispensedAt = s.now()
	}
	event.DispensedAt = event.DispensedAt.UTC()
	event.SlotID = slotID

	var updated *model.MedicineSlot
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.MedicineSlot{}).
			Where("id = ? AND stock_count > 0", slotID).
			UpdateColumn("stock_count", gorm.Expr("stock_count - ?", 1))
		if res.Error != nil {
			return fmt.Errorf("failed to decrement slot %s: %w", slotID, res.Error)
		}
		if res.RowsAffected == 0 {
			if _, err := findSlot(tx, slotID); err != nil {
				return err
			}
			return fmt.Errorf("%w: %s", ErrOutOfStock, slotID)
		}

		slot, err := findSlot(tx, slotID)
		if err != nil {
			return err
		}
		if event.Kind == "" {
			event.Kind = slot.Kind
		}

		if err := tx.Create(event).Error; err != nil {
			return fmt.Errorf("failed to append dispense event for slot %s: %w", slotID, err)
		}
		updated = slot
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ListHistory returns all dispense events, newest first.
func (s *gormStore) ListHistory(ctx context.Context) ([]model.DispenseEvent, error) {
	var events []model.DispenseEvent
	if err := s.db.WithContext(ctx).
		Order("dispensed_at DESC").
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return events, nil
}

// GetStats scans the history. There are no separate counters to keep in sync.
// "Today" is the calendar day of now in now's location.
func (s *gormStore) GetStats(ctx context.Context, now time.Time) (*Stats, error) {
	events, err := s.ListHistory(ctx)
	if err != nil {
		return nil, err
	}

	y, m, d := now.Date()
	dayStart := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)

	stats := &Stats{DispensedByKind: make(map[medicine.Kind]int)}
	for _, info := range medicine.All() {
		stats.DispensedByKind[info.Kind] = 0
	}

	allPhones := make(map[string]struct{})
	todayPhones := make(map[string]struct{})
	for _, e := range events {
		allPhones[e.PatientPhone] = struct{}{}
		if !e.DispensedAt.Before(dayStart) && e.DispensedAt.Before(dayEnd) {
			todayPhones[e.PatientPhone] = struct{}{}
		}
		stats.DispensedByKind[e.Kind]++
		stats.TotalDispensed++
		if e.Simulated {
			stats.SimulatedDispensed++
		}
	}
	stats.TotalPatients = len(allPhones)
	stats.TodayPatients = len(todayPhones)
	return stats, nil
}

// UpsertSubscription creates or replaces an owner push subscription.
func (s *gormStore) UpsertSubscription(ctx context.Context, sub *model.PushSubscription) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth"}),
	}).Create(sub).Error
}

// DeleteSubscription removes a push subscription.
func (s *gormStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	return s.db.WithContext(ctx).Delete(&model.PushSubscription{Endpoint: endpoint}).Error
}

// GetSubscription looks up a push subscription by endpoint.
func (s *gormStore) GetSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	if err := s.db.WithContext(ctx).First(&sub, "endpoint = ?", endpoint).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return &sub, nil
}

// ListSubscriptions returns every registered push subscription.
func (s *gormStore) ListSubscriptions(ctx context.Context) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	if err := s.db.WithContext(ctx).Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("failed to load subscriptions: %w", err)
	}
	return subs, nil
}

func findSlot(tx *gorm.DB, slotID string) (*model.MedicineSlot, error) {
	var slot model.MedicineSlot
	if err := tx.First(&slot, "id = ?", slotID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSlotNotFound, slotID)
		}
		return nil, fmt.Errorf("failed to load slot %s: %w", slotID, err)
	}
	return &slot, nil
}
