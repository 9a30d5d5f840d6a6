package dispense

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"medikiosk/config"
	"medikiosk/internal/db"
	"medikiosk/internal/device"
	"medikiosk/internal/deviceapi"
	"medikiosk/internal/metrics"
	"medikiosk/internal/model"
	"medikiosk/internal/motor"
	"medikiosk/internal/store"
)

// fakeTransport records motor numbers and answers with a fixed result.
type fakeTransport struct {
	mu        sync.Mutex
	motors    []int
	delay     time.Duration
	simulated bool
	err       error
}

func (f *fakeTransport) SendDispense(ctx context.Context, motorNumber int) (*device.Result, error) {
	f.mu.Lock()
	f.motors = append(f.motors, motorNumber)
	err := f.err
	f.mu.Unlock()

	time.Sleep(f.delay)
	if err != nil {
		return nil, err
	}
	return &device.Result{Simulated: f.simulated, Message: fmt.Sprintf("Medicine dispensed using motor %d", motorNumber)}, nil
}

func (f *fakeTransport) Calls() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, len(f.motors))
	copy(out, f.motors)
	return out
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) NotifyLowStock(slot model.MedicineSlot) {
	m.Called(slot)
}

func newTestLedger(t *testing.T, stock map[string]int) store.Store {
	gormDB, err := db.Init(&config.DatabaseConfig{
		Driver:       "sqlite",
		DSN:          fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
		MaxOpenConns: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close(gormDB) })

	st := store.NewGormStore(gormDB)
	require.NoError(t, st.Seed(context.Background(), store.DefaultSlots(stock, time.Now())))
	return st
}

func feverRequest(phone string) Request {
	return Request{PatientName: "Asha", PatientPhone: phone, MedicineKind: "fever"}
}

func TestRequestDispense_CommitsOneEvent(t *testing.T) {
	ctx := context.Background()
	st := newTestLedger(t, nil)
	transport := &fakeTransport{}
	m := metrics.New(prometheus.NewRegistry())
	svc := NewService(st, transport, Options{Metrics: m})

	receipt, err := svc.RequestDispense(ctx, feverRequest("5550100"))
	require.NoError(t, err)

	assert.Equal(t, []int{1}, transport.Calls())
	assert.Equal(t, 49, receipt.RemainingStock)
	assert.False(t, receipt.Simulated)
	assert.NotEmpty(t, receipt.Event.ID)
	assert.Equal(t, "fever", receipt.Event.SlotID)

	slot, err := st.GetSlot(ctx, "fever")
	require.NoError(t, err)
	assert.Equal(t, 49, slot.StockCount)

	history, err := st.ListHistory(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "5550100", history[0].PatientPhone)
	assert.Equal(t, receipt.Event.ID, history[0].ID)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.DispenseRequests.WithLabelValues("fever", OutcomeDispensed)))
	assert.Equal(t, 49.0, testutil.ToFloat64(m.SlotStock.WithLabelValues("fever")))
}

func TestRequestDispense_NormalizesKind(t *testing.T) {
	st := newTestLedger(t, nil)
	transport := &fakeTransport{}
	svc := NewService(st, transport, Options{})

	receipt, err := svc.RequestDispense(context.Background(), Request{
		PatientName: "Ravi", PatientPhone: "5550101", MedicineKind: "Stomach Ache",
	})
	require.NoError(t, err)
	assert.Equal(t, []int{4}, transport.Calls())
	assert.Equal(t, "stomachAche", receipt.Event.SlotID)
}

func TestRequestDispense_UnknownMedicine(t *testing.T) {
	st := newTestLedger(t, nil)
	transport := &fakeTransport{}
	svc := NewService(st, transport, Options{})

	_, err := svc.RequestDispense(context.Background(), Request{
		PatientName: "Asha", PatientPhone: "5550100", MedicineKind: "aspirin",
	})
	assert.ErrorIs(t, err, ErrUnknownMedicine)
	assert.Empty(t, transport.Calls())
}

func TestRequestDispense_RequiresPatient(t *testing.T) {
	st := newTestLedger(t, nil)
	transport := &fakeTransport{}
	svc := NewService(st, transport, Options{})

	_, err := svc.RequestDispense(context.Background(), Request{PatientName: " ", PatientPhone: "5550100", MedicineKind: "fever"})
	assert.ErrorIs(t, err, ErrInvalidPatient)
	assert.Empty(t, transport.Calls())
}

func TestRequestDispense_OutOfStockSendsNoCommand(t *testing.T) {
	ctx := context.Background()
	st := newTestLedger(t, map[string]int{"cough": 0})
	transport := &fakeTransport{}
	svc := NewService(st, transport, Options{})

	_, err := svc.RequestDispense(ctx, Request{PatientName: "Asha", PatientPhone: "5550100", MedicineKind: "cough"})
	assert.ErrorIs(t, err, ErrOutOfStock)
	assert.Empty(t, transport.Calls())

	history, err := st.ListHistory(ctx)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestRequestDispense_FailureLeavesLedgerUnchangedAndRetrySucceeds(t *testing.T) {
	ctx := context.Background()
	st := newTestLedger(t, map[string]int{"fever": 3})
	transport := &fakeTransport{err: &device.RejectedError{StatusCode: 500, Code: "actuator_failure", Message: "Failed to dispense medicine"}}
	svc := NewService(st, transport, Options{})

	_, err := svc.RequestDispense(ctx, feverRequest("5550100"))
	var failed *DispenseFailedError
	require.True(t, errors.As(err, &failed))
	var rejected *device.RejectedError
	assert.True(t, errors.As(err, &rejected), "cause must stay reachable")

	slot, err := st.GetSlot(ctx, "fever")
	require.NoError(t, err)
	assert.Equal(t, 3, slot.StockCount)
	history, err := st.ListHistory(ctx)
	require.NoError(t, err)
	assert.Empty(t, history)

	// A retry is a new, independent request.
	transport.mu.Lock()
	transport.err = nil
	transport.mu.Unlock()

	receipt, err := svc.RequestDispense(ctx, feverRequest("5550100"))
	require.NoError(t, err)
	assert.Equal(t, 2, receipt.RemainingStock)
	assert.Len(t, transport.Calls(), 2)
}

// countingActuator counts outbound servo moves, one per physical cycle.
type countingActuator struct {
	cycles int32
}

func (a *countingActuator) SetAngle(ctx context.Context, motorIndex int, angle float64) error {
	if angle != 0 {
		atomic.AddInt32(&a.cycles, 1)
	}
	return nil
}

func TestRequestDispense_CallerGoneMidCycleIsStillRecorded(t *testing.T) {
	st := newTestLedger(t, map[string]int{"fever": 5})
	actuator := &countingActuator{}
	controller := motor.NewController(motor.Config{
		MotorCount:     4,
		DispenseAngle:  90,
		SettleDuration: 200 * time.Millisecond,
	}, actuator)
	dispenser := httptest.NewServer(deviceapi.NewRouter(deviceapi.NewHandler(controller), nil))
	defer dispenser.Close()

	client := device.NewClient(config.DeviceConfig{
		URL:     dispenser.URL,
		Timeout: 2 * time.Second,
		Breaker: config.BreakerConfig{ConsecutiveFailures: 3, OpenTimeout: time.Minute},
	}, nil)
	svc := NewService(st, client, Options{})

	// The patient leaves while the motor is still settling.
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	receipt, err := svc.RequestDispense(ctx, feverRequest("5550100"))
	require.NoError(t, err)
	assert.False(t, receipt.Simulated)
	assert.Equal(t, 4, receipt.RemainingStock)

	assert.Equal(t, int32(1), atomic.LoadInt32(&actuator.cycles))
	slot, err := st.GetSlot(context.Background(), "fever")
	require.NoError(t, err)
	assert.Equal(t, 4, slot.StockCount)
	history, err := st.ListHistory(context.Background())
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestRequestDispense_TransportUnavailable(t *testing.T) {
	st := newTestLedger(t, nil)
	transport := &fakeTransport{err: fmt.Errorf("%w: connection refused", device.ErrTransportUnavailable)}
	svc := NewService(st, transport, Options{})

	_, err := svc.RequestDispense(context.Background(), feverRequest("5550100"))
	var failed *DispenseFailedError
	require.True(t, errors.As(err, &failed))
	assert.ErrorIs(t, err, device.ErrTransportUnavailable)
}

func TestRequestDispense_SimulatedIsRecorded(t *testing.T) {
	ctx := context.Background()
	st := newTestLedger(t, nil)
	svc := NewService(st, &fakeTransport{simulated: true}, Options{})

	receipt, err := svc.RequestDispense(ctx, feverRequest("5550100"))
	require.NoError(t, err)
	assert.True(t, receipt.Simulated)

	history, err := st.ListHistory(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].Simulated)
}

func TestRequestDispense_LastUnitGoesToOneCaller(t *testing.T) {
	ctx := context.Background()
	st := newTestLedger(t, map[string]int{"cold": 1})
	transport := &fakeTransport{delay: 50 * time.Millisecond}
	svc := NewService(st, transport, Options{})

	var wg sync.WaitGroup
	var succeeded, outOfStock int32
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.RequestDispense(ctx, Request{
				PatientName: "Patient", PatientPhone: fmt.Sprintf("555020%d", i), MedicineKind: "cold",
			})
			switch {
			case err == nil:
				atomic.AddInt32(&succeeded, 1)
			case errors.Is(err, ErrOutOfStock):
				atomic.AddInt32(&outOfStock, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), succeeded)
	assert.Equal(t, int32(1), outOfStock)
	assert.Len(t, transport.Calls(), 1, "exactly one device command")

	slot, err := st.GetSlot(ctx, "cold")
	require.NoError(t, err)
	assert.Equal(t, 0, slot.StockCount)
}

func TestRequestDispense_DifferentSlotsDoNotBlock(t *testing.T) {
	st := newTestLedger(t, nil)
	transport := &fakeTransport{delay: 150 * time.Millisecond}
	svc := NewService(st, transport, Options{})

	start := time.Now()
	var wg sync.WaitGroup
	for _, kind := range []string{"fever", "cough", "cold"} {
		wg.Add(1)
		go func(kind string) {
			defer wg.Done()
			_, err := svc.RequestDispense(context.Background(), Request{
				PatientName: "Patient", PatientPhone: "5550300", MedicineKind: kind,
			})
			assert.NoError(t, err)
		}(kind)
	}
	wg.Wait()

	assert.Less(t, time.Since(start), 400*time.Millisecond)
	assert.Len(t, transport.Calls(), 3)
}

func TestRequestDispense_LowStockAlert(t *testing.T) {
	st := newTestLedger(t, map[string]int{"fever": 6})
	notifier := &mockNotifier{}
	notifier.On("NotifyLowStock", mock.MatchedBy(func(slot model.MedicineSlot) bool {
		return slot.ID == "fever" && slot.StockCount == 5
	})).Once()

	svc := NewService(st, &fakeTransport{}, Options{LowStockThreshold: 5, Notifier: notifier})

	// 6 -> 5 crosses the threshold; 5 -> 4 stays below and alerts again.
	_, err := svc.RequestDispense(context.Background(), feverRequest("5550100"))
	require.NoError(t, err)
	notifier.AssertNumberOfCalls(t, "NotifyLowStock", 1)

	notifier.On("NotifyLowStock", mock.Anything).Once()
	_, err = svc.RequestDispense(context.Background(), feverRequest("5550100"))
	require.NoError(t, err)
	notifier.AssertExpectations(t)
	notifier.AssertNumberOfCalls(t, "NotifyLowStock", 2)
}

func TestRequestDispense_NoAlertAboveThreshold(t *testing.T) {
	notifier := &mockNotifier{}
	svc := NewService(newTestLedger(t, nil), &fakeTransport{}, Options{LowStockThreshold: 5, Notifier: notifier})

	_, err := svc.RequestDispense(context.Background(), feverRequest("5550100"))
	require.NoError(t, err)
	notifier.AssertNotCalled(t, "NotifyLowStock", mock.Anything)
}

func TestPublishStock(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	svc := NewService(newTestLedger(t, map[string]int{"cold": 12}), &fakeTransport{}, Options{Metrics: m})

	require.NoError(t, svc.PublishStock(context.Background()))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.SlotStock.WithLabelValues("cold")))
	assert.Equal(t, 50.0, testutil.ToFloat64(m.SlotStock.WithLabelValues("fever")))
}
