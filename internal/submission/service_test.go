package submission

import (
	"bulk_orders/internal/cache"
	cachemocks "bulk_orders/internal/cache/mocks"
	"bulk_orders/internal/model"
	"bulk_orders/internal/parser"
	"bulk_orders/internal/submission/mocks"
	"bulk_orders/internal/validator"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
)

const fiveValidLines = `0241234567 MTN 5
0261234567 AirtelTigo 2
0501234567 10
0551234567 1.5
0201234567 Telecel 3`

func newTestService(t *testing.T) (*Service, *mocks.MockSubmitter, cache.Store) {
	ctrl := gomock.NewController(t)
	api := mocks.NewMockSubmitter(ctrl)
	store := cache.NewLRUStore(10, time.Hour)
	return NewService(store, validator.NewRowValidator(0), api, "Pay via MoMo to 0240000000", zap.NewNop()), api, store
}

func loadConfirmed(t *testing.T, s *Service, text string) Summary {
	summary, err := s.LoadText(context.Background(), text)
	require.NoError(t, err)
	summary, err = s.Confirm(context.Background(), summary.BatchID)
	require.NoError(t, err)
	return summary
}

func TestLoadText_Accounting(t *testing.T) {
	s, _, _ := newTestService(t)

	summary, err := s.LoadText(context.Background(), "0241234567 MTN 5\n12345\n0211234567 5\n0551234567 AirtelTigo 5")
	require.NoError(t, err)

	assert.Equal(t, model.SourceText, summary.Source)
	assert.Equal(t, model.StateParsed, summary.State)
	assert.Equal(t, 4, summary.Total)
	assert.Equal(t, 2, summary.Valid)
	assert.Equal(t, 2, summary.Invalid)
	assert.Equal(t, summary.Total, summary.Valid+summary.Invalid)

	assert.Equal(t, model.ErrInsufficientData, summary.Rows[1].Error)
	assert.Equal(t, model.ErrUndetectedNetwork, summary.Rows[2].Error)
	assert.Equal(t, model.NetworkAirtelTigo, summary.Rows[3].Network)
}

func TestLoadText_EmptyInput(t *testing.T) {
	s, _, _ := newTestService(t)

	_, err := s.LoadText(context.Background(), "\n   \n\t")
	assert.ErrorIs(t, err, ErrEmptyBatch)
}

func TestLoadText_TooLarge(t *testing.T) {
	s, _, _ := newTestService(t)

	text := strings.Repeat("0241234567 5\n", parser.MaxRows+1)
	_, err := s.LoadText(context.Background(), text)
	assert.ErrorIs(t, err, parser.ErrBatchTooLarge)
}

func TestLoadFile_KeepsFileName(t *testing.T) {
	s, _, _ := newTestService(t)

	summary, err := s.LoadFile(context.Background(), "orders.csv", strings.NewReader("phone,network,capacity\n0241234567,MTN,5\n"))
	require.NoError(t, err)
	assert.Equal(t, model.SourceFile, summary.Source)
	assert.Equal(t, "orders.csv", summary.FileName)
	assert.Equal(t, 1, summary.Valid)
}

func TestSubmit_AllValidRows(t *testing.T) {
	s, api, _ := newTestService(t)
	summary := loadConfirmed(t, s, fiveValidLines)

	api.EXPECT().
		Submit(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, payload model.BulkSubmission) (*model.SubmissionAccepted, error) {
			assert.Equal(t, "agent-7", payload.AgentID)
			assert.Equal(t, "text", payload.Source)
			assert.Equal(t, "Pay via MoMo to 0240000000", payload.PaymentInstructions)
			require.Len(t, payload.Rows, 5)
			assert.Equal(t, model.SubmissionRow{Phone: "0241234567", CapacityGB: 5, Network: "MTN", RawPhone: "0241234567"}, payload.Rows[0])
			assert.Equal(t, "Telecel", payload.Rows[2].Network)
			assert.Equal(t, 1.5, payload.Rows[3].CapacityGB)
			return &model.SubmissionAccepted{SubmissionID: "sub-1", PaymentPIN: "Q7X2K9"}, nil
		}).
		Times(1)

	result, err := s.Submit(context.Background(), summary.BatchID, "agent-7")
	require.NoError(t, err)
	assert.Equal(t, Result{
		SubmissionID:        "sub-1",
		PaymentPIN:          "Q7X2K9",
		PaymentInstructions: "Pay via MoMo to 0240000000",
		Accepted:            5,
		Rejected:            0,
	}, result)

	_, err = s.Get(context.Background(), summary.BatchID)
	assert.ErrorIs(t, err, ErrBatchNotFound)
}

func TestSubmit_OnlyValidRowsAreSent(t *testing.T) {
	s, api, _ := newTestService(t)
	summary, err := s.LoadFile(context.Background(), "orders.csv", strings.NewReader("0241234567,MTN,5\n0241234567,mtn,5\n12345\n"))
	require.NoError(t, err)
	_, err = s.Confirm(context.Background(), summary.BatchID)
	require.NoError(t, err)

	api.EXPECT().
		Submit(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, payload model.BulkSubmission) (*model.SubmissionAccepted, error) {
			assert.Equal(t, "csv", payload.Source)
			assert.Len(t, payload.Rows, 1)
			return &model.SubmissionAccepted{SubmissionID: "sub-2", PaymentPIN: "AAAAAA"}, nil
		})

	result, err := s.Submit(context.Background(), summary.BatchID, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Accepted)
	assert.Equal(t, 2, result.Rejected)
}

func TestSubmit_RejectedKeepsBatch(t *testing.T) {
	s, api, _ := newTestService(t)
	summary := loadConfirmed(t, s, fiveValidLines)

	api.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(nil, errors.New("duplicate submission"))

	_, err := s.Submit(context.Background(), summary.BatchID, "agent-7")
	require.Error(t, err)
	assert.Equal(t, "duplicate submission", err.Error())

	after, err := s.Get(context.Background(), summary.BatchID)
	require.NoError(t, err)
	assert.Equal(t, model.StateConfirmed, after.State)
	assert.Equal(t, summary.Rows, after.Rows)

	// Повторная отправка того же пакета возможна.
	api.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(&model.SubmissionAccepted{SubmissionID: "sub-3", PaymentPIN: "BBBBBB"}, nil)
	result, err := s.Submit(context.Background(), summary.BatchID, "agent-7")
	require.NoError(t, err)
	assert.Equal(t, "sub-3", result.SubmissionID)
}

func TestSubmit_CanceledContextStillRestores(t *testing.T) {
	s, api, _ := newTestService(t)
	summary := loadConfirmed(t, s, fiveValidLines)

	ctx, cancel := context.WithCancel(context.Background())
	api.EXPECT().
		Submit(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, payload model.BulkSubmission) (*model.SubmissionAccepted, error) {
			cancel()
			return nil, context.Canceled
		})

	_, err := s.Submit(ctx, summary.BatchID, "agent-7")
	assert.ErrorIs(t, err, context.Canceled)

	after, err := s.Get(context.Background(), summary.BatchID)
	require.NoError(t, err)
	assert.Equal(t, model.StateConfirmed, after.State)
}

func TestSubmit_Preconditions(t *testing.T) {
	s, _, _ := newTestService(t)

	_, err := s.Submit(context.Background(), "missing", "agent-1")
	assert.ErrorIs(t, err, ErrBatchNotFound)

	parsed, err := s.LoadText(context.Background(), fiveValidLines)
	require.NoError(t, err)
	_, err = s.Submit(context.Background(), parsed.BatchID, "agent-1")
	assert.ErrorIs(t, err, ErrNotConfirmed)

	_, err = s.Confirm(context.Background(), parsed.BatchID)
	require.NoError(t, err)
	_, err = s.Submit(context.Background(), parsed.BatchID, "   ")
	assert.ErrorIs(t, err, ErrMissingAgent)

	invalid := loadConfirmed(t, s, "12345\n0211234567 5")
	_, err = s.Submit(context.Background(), invalid.BatchID, "agent-1")
	assert.ErrorIs(t, err, ErrNoValidRows)

	// Пакет после отказа по предусловию остается нетронутым.
	after, err := s.Get(context.Background(), parsed.BatchID)
	require.NoError(t, err)
	assert.Equal(t, model.StateConfirmed, after.State)
}

func TestSubmit_SecondSubmitWhileInFlight(t *testing.T) {
	s, api, _ := newTestService(t)
	summary := loadConfirmed(t, s, fiveValidLines)

	started := make(chan struct{})
	release := make(chan struct{})
	api.EXPECT().
		Submit(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, payload model.BulkSubmission) (*model.SubmissionAccepted, error) {
			close(started)
			<-release
			return &model.SubmissionAccepted{SubmissionID: "sub-4", PaymentPIN: "CCCCCC"}, nil
		}).
		Times(1)

	done := make(chan error, 1)
	go func() {
		_, err := s.Submit(context.Background(), summary.BatchID, "agent-1")
		done <- err
	}()
	<-started

	_, err := s.Submit(context.Background(), summary.BatchID, "agent-1")
	assert.ErrorIs(t, err, ErrSubmissionInFlight)
	_, err = s.Confirm(context.Background(), summary.BatchID)
	assert.ErrorIs(t, err, ErrSubmissionInFlight)
	assert.ErrorIs(t, s.Discard(context.Background(), summary.BatchID), ErrSubmissionInFlight)

	got, err := s.Get(context.Background(), summary.BatchID)
	require.NoError(t, err)
	assert.Equal(t, model.StateSubmitting, got.State)

	close(release)
	require.NoError(t, <-done)
}

func TestDiscard(t *testing.T) {
	s, _, _ := newTestService(t)
	summary, err := s.LoadText(context.Background(), fiveValidLines)
	require.NoError(t, err)

	require.NoError(t, s.Discard(context.Background(), summary.BatchID))
	_, err = s.Get(context.Background(), summary.BatchID)
	assert.ErrorIs(t, err, ErrBatchNotFound)
	assert.ErrorIs(t, s.Discard(context.Background(), summary.BatchID), ErrBatchNotFound)
}

// Состояние submitting, сохраненное другим экземпляром через общий Redis.
func TestDiscard_PersistedSubmittingState(t *testing.T) {
	s, _, store := newTestService(t)
	summary := loadConfirmed(t, s, fiveValidLines)

	batch, err := store.Get(context.Background(), summary.BatchID)
	require.NoError(t, err)
	batch.State = model.StateSubmitting
	require.NoError(t, store.Set(context.Background(), batch))

	assert.ErrorIs(t, s.Discard(context.Background(), summary.BatchID), ErrSubmissionInFlight)
	_, err = s.Confirm(context.Background(), summary.BatchID)
	assert.ErrorIs(t, err, ErrSubmissionInFlight)
	_, err = s.Submit(context.Background(), summary.BatchID, "agent-1")
	assert.ErrorIs(t, err, ErrSubmissionInFlight)
}

func TestConfirm_Unknown(t *testing.T) {
	s, _, _ := newTestService(t)
	_, err := s.Confirm(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrBatchNotFound)
}

func TestSubmit_StoreFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := cachemocks.NewMockStore(ctrl)
	api := mocks.NewMockSubmitter(ctrl)
	s := NewService(store, validator.NewRowValidator(0), api, "pay", zap.NewNop())

	storeErr := errors.New("connection refused")
	store.EXPECT().Get(gomock.Any(), "b-1").Return(nil, storeErr)

	_, err := s.Submit(context.Background(), "b-1", "agent-1")
	assert.ErrorIs(t, err, storeErr)
	assert.NotErrorIs(t, err, ErrBatchNotFound)
}

func TestSubmit_SuccessEvenIfCleanupFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := cachemocks.NewMockStore(ctrl)
	api := mocks.NewMockSubmitter(ctrl)
	s := NewService(store, validator.NewRowValidator(0), api, "pay", zap.NewNop())

	batch := &model.Batch{
		ID:     "b-2",
		Source: model.SourceText,
		State:  model.StateConfirmed,
		Rows: []model.BulkOrderRow{
			{Line: 1, Phone: "0241234567", Network: model.NetworkMTN, Capacity: "5", RawPhone: "0241234567", Valid: true},
		},
	}

	gomock.InOrder(
		store.EXPECT().Get(gomock.Any(), "b-2").Return(batch, nil),
		store.EXPECT().Set(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, b *model.Batch) error {
			assert.Equal(t, model.StateSubmitting, b.State)
			return nil
		}),
		api.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(&model.SubmissionAccepted{SubmissionID: "sub-5", PaymentPIN: "DDDDDD"}, nil),
		store.EXPECT().Delete(gomock.Any(), "b-2").Return(errors.New("redis down")),
	)

	result, err := s.Submit(context.Background(), "b-2", "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "sub-5", result.SubmissionID)
}

// Два экземпляра сервиса с общим Redis.
func newSharedServices(t *testing.T) (*Service, *Service, *mocks.MockSubmitter, cache.Store) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	store := cache.NewRedisStore(client, time.Hour)
	api := mocks.NewMockSubmitter(gomock.NewController(t))
	first := NewService(store, validator.NewRowValidator(0), api, "pay", zap.NewNop())
	second := NewService(store, validator.NewRowValidator(0), api, "pay", zap.NewNop())
	return first, second, api, store
}

func TestSubmit_SharedStoreLockBlocksOtherInstance(t *testing.T) {
	first, second, api, store := newSharedServices(t)
	summary := loadConfirmed(t, first, fiveValidLines)

	// Блокировка, взятая другим экземпляром до записи состояния submitting.
	locker := store.(cache.Locker)
	token, err := locker.Lock(context.Background(), summary.BatchID, SubmitLockTTL)
	require.NoError(t, err)

	api.EXPECT().Submit(gomock.Any(), gomock.Any()).Times(0)
	_, err = second.Submit(context.Background(), summary.BatchID, "agent-1")
	assert.ErrorIs(t, err, ErrSubmissionInFlight)

	got, err := second.Get(context.Background(), summary.BatchID)
	require.NoError(t, err)
	assert.Equal(t, model.StateConfirmed, got.State)

	require.NoError(t, locker.Unlock(context.Background(), summary.BatchID, token))
	api.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(&model.SubmissionAccepted{SubmissionID: "sub-6", PaymentPIN: "EEEEEE"}, nil)
	result, err := second.Submit(context.Background(), summary.BatchID, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "sub-6", result.SubmissionID)
}

func TestSubmit_SharedStoreConcurrentInstances(t *testing.T) {
	first, second, api, _ := newSharedServices(t)
	summary := loadConfirmed(t, first, fiveValidLines)

	started := make(chan struct{})
	release := make(chan struct{})
	api.EXPECT().
		Submit(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, payload model.BulkSubmission) (*model.SubmissionAccepted, error) {
			close(started)
			<-release
			return nil, errors.New("duplicate submission")
		}).
		Times(1)

	done := make(chan error, 1)
	go func() {
		_, err := first.Submit(context.Background(), summary.BatchID, "agent-1")
		done <- err
	}()
	<-started

	_, err := second.Submit(context.Background(), summary.BatchID, "agent-1")
	assert.ErrorIs(t, err, ErrSubmissionInFlight)

	close(release)
	assert.EqualError(t, <-done, "duplicate submission")

	// После неудачи блокировка снята, второй экземпляр может повторить отправку.
	api.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(&model.SubmissionAccepted{SubmissionID: "sub-7", PaymentPIN: "FFFFFF"}, nil)
	result, err := second.Submit(context.Background(), summary.BatchID, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "sub-7", result.SubmissionID)
}
