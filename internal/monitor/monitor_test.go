package monitor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"medikiosk/internal/medicine"
	"medikiosk/internal/metrics"
	"medikiosk/internal/model"
)

type mockProber struct {
	up    atomic.Bool
	calls atomic.Int32
}

func (m *mockProber) Probe(ctx context.Context) (bool, error) {
	m.calls.Add(1)
	if !m.up.Load() {
		return false, errors.New("connection refused")
	}
	return true, nil
}

func (m *mockProber) Endpoint() string { return "http://127.0.0.1:5000" }

type mockSlots struct {
	slots []model.MedicineSlot
	err   error
}

func (m *mockSlots) GetSlots(ctx context.Context) ([]model.MedicineSlot, error) {
	return m.slots, m.err
}

func TestCheckOnce_PublishesDeviceAndStock(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	prober := &mockProber{}
	prober.up.Store(true)
	slots := &mockSlots{slots: []model.MedicineSlot{
		{ID: "fever", Kind: medicine.Fever, StockCount: 9},
		{ID: "cold", Kind: medicine.Cold, StockCount: 0},
	}}

	svc := NewService(prober, slots, m, time.Minute)
	assert.True(t, svc.CheckOnce(context.Background()))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DeviceUp))
	assert.Equal(t, 9.0, testutil.ToFloat64(m.SlotStock.WithLabelValues("fever")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.SlotStock.WithLabelValues("cold")))

	prober.up.Store(false)
	assert.False(t, svc.CheckOnce(context.Background()))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.DeviceUp))
}

func TestCheckOnce_LedgerErrorStillReportsDevice(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	prober := &mockProber{}
	prober.up.Store(true)

	svc := NewService(prober, &mockSlots{err: errors.New("db closed")}, m, time.Minute)
	assert.True(t, svc.CheckOnce(context.Background()))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DeviceUp))
}

func TestRun_ChecksPeriodicallyUntilCancelled(t *testing.T) {
	prober := &mockProber{}
	svc := NewService(prober, &mockSlots{}, nil, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return prober.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
