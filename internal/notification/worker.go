package notification

import (
	"context"
	"fmt"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog/log"

	"medikiosk/internal/model"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// SubscriptionStore is the part of the ledger the workers need.
type SubscriptionStore interface {
	ListSubscriptions(ctx context.Context) ([]model.PushSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
}

// WorkerPool manages a pool of workers sending low-stock alerts to the owner's
// subscribed browsers.
type WorkerPool struct {
	size    int
	jobs    chan model.MedicineSlot
	store   SubscriptionStore
	webpush *webpush.Options
	sender  NotificationSender
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, st SubscriptionStore, webpushOptions *webpush.Options) *WorkerPool {
	return &WorkerPool{
		size:    size,
		jobs:    make(chan model.MedicineSlot, size*4),
		store:   st,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log.Debug().Int("worker", id).Msg("notification worker started")
	for {
		select {
		case slot := <-wp.jobs:
			log.Debug().Int("worker", id).Str("slot", slot.ID).Int("stock", slot.StockCount).Msg("processing low-stock alert")
			wp.sendLowStockAlerts(ctx, slot)
		case <-ctx.Done():
			log.Debug().Int("worker", id).Msg("notification worker shutting down")
			return
		}
	}
}

// NotifyLowStock queues an alert for slot. It never blocks the caller: when
// the queue is full the alert is dropped.
func (wp *WorkerPool) NotifyLowStock(slot model.MedicineSlot) {
	select {
	case wp.jobs <- slot:
	default:
		log.Warn().Str("slot", slot.ID).Int("stock", slot.StockCount).Msg("notification queue full; dropping low-stock alert")
	}
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan model.MedicineSlot {
	return wp.jobs
}

// LowStockMessage is the alert text for slot.
func LowStockMessage(slot model.MedicineSlot) string {
	if slot.StockCount <= 0 {
		return fmt.Sprintf("%s is out of stock. Please refill the %s slot.", slot.DisplayName, slot.Kind)
	}
	return fmt.Sprintf("%s is running low: %d left.", slot.DisplayName, slot.StockCount)
}

func (wp *WorkerPool) sendLowStockAlerts(ctx context.Context, slot model.MedicineSlot) {
	subscriptions, err := wp.store.ListSubscriptions(ctx)
	if err != nil {
		log.Error().Err(err).Str("slot", slot.ID).Msg("failed to load push subscriptions")
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	log.Info().Int("count", len(subscriptions)).Str("slot", slot.ID).Msg("sending low-stock alerts")

	message := []byte(LowStockMessage(slot))
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, message)
	}
}

func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		log.Error().Err(err).Str("endpoint", sub.Endpoint).Msg("failed to send push notification")
		return
	}
	defer resp.Body.Close()

	// The push service answers 410 for unsubscribed browsers.
	if resp.StatusCode == http.StatusGone {
		log.Info().Str("endpoint", sub.Endpoint).Msg("push subscription expired; deleting")
		if err := wp.store.DeleteSubscription(ctx, sub.Endpoint); err != nil {
			log.Error().Err(err).Str("endpoint", sub.Endpoint).Msg("failed to delete expired subscription")
		}
	}
}
