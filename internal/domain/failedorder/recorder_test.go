package failedorder

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type mockRepo struct {
	byTx        map[string]*Record
	count       int64
	countErr    error
	insertErr   error
	inserted    int
	updated     int
	statusErr   error
	racingOwner string
}

func newMockRepo(records ...*Record) *mockRepo {
	m := &mockRepo{byTx: make(map[string]*Record)}
	for _, r := range records {
		m.byTx[r.TransactionID] = r
	}
	return m
}

func (m *mockRepo) GetByID(_ context.Context, id string) (*Record, error) {
	for _, r := range m.byTx {
		if r.ID == id {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepo) FindByTransactionID(_ context.Context, txID string) (*Record, error) {
	r, ok := m.byTx[txID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *mockRepo) Insert(_ context.Context, r *Record) error {
	if m.racingOwner != "" {
		// Simulate another request inserting first.
		m.byTx[r.TransactionID] = &Record{ID: "other", TransactionID: r.TransactionID, UserID: m.racingOwner, Status: StatusPending}
		return ErrDuplicate
	}
	if m.insertErr != nil {
		return m.insertErr
	}
	m.inserted++
	cp := *r
	m.byTx[r.TransactionID] = &cp
	return nil
}

func (m *mockRepo) Update(_ context.Context, r *Record) error {
	m.updated++
	cp := *r
	m.byTx[r.TransactionID] = &cp
	return nil
}

func (m *mockRepo) CountByUserSince(_ context.Context, _ string, _ time.Time) (int64, error) {
	return m.count, m.countErr
}

func (m *mockRepo) List(_ context.Context, status Status) ([]Record, error) {
	var out []Record
	for _, r := range m.byTx {
		if status == "" || r.Status == status {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *mockRepo) UpdateStatus(_ context.Context, r *Record, from Status) error {
	if m.statusErr != nil {
		return m.statusErr
	}
	stored := m.byTx[r.TransactionID]
	if stored.Status != from {
		return ErrConcurrentUpdate
	}
	cp := *r
	m.byTx[r.TransactionID] = &cp
	return nil
}

const validOrder = `{"items":[{"productId":"p1","quantity":1}],"total":24.66}`

func observed() (context.Context, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return zctx.Base(context.Background(), zap.New(core)), logs
}

func newTestRecorder(repo *mockRepo) *Recorder {
	m, err := NewMetrics(noop.NewMeterProvider().Meter("test"))
	if err != nil {
		panic(err)
	}
	return NewRecorder(repo, DefaultLimit(), m)
}

func TestRecorder_SubmitValidation(t *testing.T) {
	tests := []struct {
		name string
		txID string
		data string
	}{
		{name: "short transaction id", txID: "ab", data: validOrder},
		{name: "blank transaction id", txID: "   ", data: validOrder},
		{name: "long transaction id", txID: strings.Repeat("x", 101), data: validOrder},
		{name: "missing order data", txID: "txn_1"},
		{name: "order data not an object", txID: "txn_1", data: `[1,2]`},
		{name: "no items", txID: "txn_1", data: `{"items":[],"total":10}`},
		{name: "zero total", txID: "txn_1", data: `{"items":[{}],"total":0}`},
		{name: "missing total", txID: "txn_1", data: `{"items":[{}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMockRepo()
			_, _, err := newTestRecorder(repo).Submit(context.Background(), SubmitRequest{
				UserID:        "u1",
				TransactionID: tt.txID,
				OrderData:     json.RawMessage(tt.data),
			})
			require.ErrorIs(t, err, ErrInvalidRecord)
			assert.Zero(t, repo.inserted)
		})
	}
}

func TestRecorder_SubmitCreates(t *testing.T) {
	repo := newMockRepo()
	rec, created, err := newTestRecorder(repo).Submit(context.Background(), SubmitRequest{
		UserID:        "u1",
		TransactionID: "  txn_123  ",
		OrderData:     json.RawMessage(validOrder),
		Comment:       "order insert timed out",
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "txn_123", rec.TransactionID)
	assert.Equal(t, StatusPending, rec.Status)
	assert.Equal(t, "24.66", rec.Amount.String())
	assert.Equal(t, 1, repo.inserted)
}

func TestRecorder_SameUserResubmitUpdates(t *testing.T) {
	repo := newMockRepo(&Record{ID: "r1", TransactionID: "txn_1", UserID: "u1", Status: StatusPending})

	rec, created, err := newTestRecorder(repo).Submit(context.Background(), SubmitRequest{
		UserID:        "u1",
		TransactionID: "txn_1",
		OrderData:     json.RawMessage(validOrder),
		Comment:       "retry",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "r1", rec.ID)
	assert.Equal(t, "retry", repo.byTx["txn_1"].Comment)
	assert.Equal(t, 1, repo.updated)
	assert.Zero(t, repo.inserted)
}

func TestRecorder_CrossUserConflict(t *testing.T) {
	ctx, logs := observed()
	repo := newMockRepo(&Record{ID: "r1", TransactionID: "txn_1", UserID: "owner", Status: StatusPending})

	_, _, err := newTestRecorder(repo).Submit(ctx, SubmitRequest{
		UserID:        "intruder",
		TransactionID: "txn_1",
		OrderData:     json.RawMessage(validOrder),
	})
	require.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, "owner", repo.byTx["txn_1"].UserID)
	assert.Zero(t, repo.updated)

	entries := logs.FilterMessage("Failed order transaction conflict").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zap.ErrorLevel, entries[0].Level)
	assert.Equal(t, true, entries[0].ContextMap()["security_review"])
}

func TestRecorder_InsertRaceResolvesAgainstWinner(t *testing.T) {
	t.Run("same user", func(t *testing.T) {
		repo := newMockRepo()
		repo.racingOwner = "u1"

		_, created, err := newTestRecorder(repo).Submit(context.Background(), SubmitRequest{
			UserID: "u1", TransactionID: "txn_9", OrderData: json.RawMessage(validOrder),
		})
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, 1, repo.updated)
	})

	t.Run("other user", func(t *testing.T) {
		repo := newMockRepo()
		repo.racingOwner = "someone-else"

		_, _, err := newTestRecorder(repo).Submit(context.Background(), SubmitRequest{
			UserID: "u1", TransactionID: "txn_9", OrderData: json.RawMessage(validOrder),
		})
		require.ErrorIs(t, err, ErrConflict)
	})
}

func TestRecorder_RateLimit(t *testing.T) {
	tests := []struct {
		name     string
		count    int64
		countErr error
		wantErr  error
		wantWarn bool
	}{
		{name: "under limit", count: 4},
		{name: "at limit", count: 5, wantErr: ErrRateLimited},
		{name: "count failure fails open", countErr: errors.New("index missing"), wantWarn: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, logs := observed()
			repo := newMockRepo()
			repo.count = tt.count
			repo.countErr = tt.countErr

			_, _, err := newTestRecorder(repo).Submit(ctx, SubmitRequest{
				UserID: "u1", TransactionID: "txn_rate", OrderData: json.RawMessage(validOrder),
			})
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Zero(t, repo.inserted)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 1, repo.inserted)
			assert.Equal(t, tt.wantWarn, logs.FilterMessage("Failed order rate check unavailable, allowing").Len() == 1)
		})
	}
}

func TestRecorder_RateLimitSkipsIdempotentRetry(t *testing.T) {
	repo := newMockRepo(&Record{ID: "r1", TransactionID: "txn_1", UserID: "u1", Status: StatusPending})
	repo.count = 100

	_, created, err := newTestRecorder(repo).Submit(context.Background(), SubmitRequest{
		UserID: "u1", TransactionID: "txn_1", OrderData: json.RawMessage(validOrder),
	})
	require.NoError(t, err)
	assert.False(t, created)
}

func TestRecorder_StoreError(t *testing.T) {
	repo := newMockRepo()
	repo.insertErr = errors.New("write concern")

	_, _, err := newTestRecorder(repo).Submit(context.Background(), SubmitRequest{
		UserID: "u1", TransactionID: "txn_1", OrderData: json.RawMessage(validOrder),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert failed order")
}

func TestRecorder_Review(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		wantErr error
	}{
		{name: "pending to reviewed", from: StatusPending, to: StatusReviewed},
		{name: "reviewed to resolved", from: StatusReviewed, to: StatusResolved},
		{name: "skip review", from: StatusPending, to: StatusResolved, wantErr: ErrInvalidStatus},
		{name: "reopen", from: StatusResolved, to: StatusPending, wantErr: ErrInvalidStatus},
		{name: "unknown status", from: StatusPending, to: "closed", wantErr: ErrInvalidStatus},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMockRepo(&Record{ID: "r1", TransactionID: "txn_1", UserID: "u1", Status: tt.from})

			rec, err := newTestRecorder(repo).Review(context.Background(), "r1", tt.to, "admin-1")
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, tt.from, repo.byTx["txn_1"].Status)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.to, rec.Status)
			assert.Equal(t, "admin-1", repo.byTx["txn_1"].ReviewedBy)
		})
	}

	_, err := newTestRecorder(newMockRepo()).Review(context.Background(), "missing", StatusReviewed, "a")
	require.ErrorIs(t, err, ErrNotFound)
}
