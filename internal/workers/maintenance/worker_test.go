package maintenance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/helgykoin/hkn_ledger/internal/domain/entities"
	"github.com/helgykoin/hkn_ledger/internal/domain/services/reconciliation"
)

type mockBoosterStore struct {
	mock.Mock
}

func (m *mockBoosterStore) DeleteBoostersExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

type mockReconciler struct {
	mock.Mock
}

func (m *mockReconciler) CheckAll(ctx context.Context) (*reconciliation.Report, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*reconciliation.Report), args.Error(1)
}

var fixedNow = time.Date(2026, 6, 30, 12, 0, 0, 0, time.UTC)

func TestCleanupBoosters_UsesRetentionCutoff(t *testing.T) {
	store := new(mockBoosterStore)
	store.On("DeleteBoostersExpiredBefore", mock.Anything, fixedNow.Add(-48*time.Hour)).Return(int64(3), nil)

	w := NewWorker(store, nil, Config{BoosterRetention: 48 * time.Hour}, func() time.Time { return fixedNow }, nil)
	n, err := w.CleanupBoosters(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	store.AssertExpectations(t)
}

func TestCleanupBoosters_DefaultRetention(t *testing.T) {
	store := new(mockBoosterStore)
	store.On("DeleteBoostersExpiredBefore", mock.Anything, fixedNow.Add(-30*24*time.Hour)).Return(int64(0), errors.New("db down"))

	w := NewWorker(store, nil, Config{}, func() time.Time { return fixedNow }, nil)
	_, err := w.CleanupBoosters(context.Background())
	assert.Error(t, err)
	store.AssertExpectations(t)
}

func TestReconcile(t *testing.T) {
	rec := new(mockReconciler)
	report := &reconciliation.Report{
		Checked:    4,
		Mismatches: []*entities.ReconciliationResult{{AccountID: 9}},
	}
	rec.On("CheckAll", mock.Anything).Return(report, nil).Once()
	rec.On("CheckAll", mock.Anything).Return(nil, errors.New("timeout")).Once()

	w := NewWorker(new(mockBoosterStore), rec, Config{}, nil, nil)

	got, err := w.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Same(t, report, got)

	_, err = w.Reconcile(context.Background())
	assert.Error(t, err)
	rec.AssertExpectations(t)
}

func TestStart_RejectsBadSchedule(t *testing.T) {
	w := NewWorker(new(mockBoosterStore), nil, Config{BoosterCleanupSchedule: "every hour"}, nil, nil)
	assert.Error(t, w.Start())
}

func TestStartStop(t *testing.T) {
	w := NewWorker(new(mockBoosterStore), new(mockReconciler), Config{}, nil, nil)
	require.NoError(t, w.Start())
	w.Stop()
}
