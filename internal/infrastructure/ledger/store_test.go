package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"coinvest-backend/internal/domain"
	"coinvest-backend/internal/infrastructure/database"
	"coinvest-backend/internal/pkg/optional"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) *Store {
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	return New(db)
}

func seedPool(t *testing.T, s *Store, status domain.PoolStatus) *domain.Pool {
	p := &domain.Pool{
		Name:            "Harbor Lofts",
		Slug:            "harbor-lofts-" + uuid.NewString()[:8],
		TargetAmount:    decimal.NewFromInt(100000),
		SharePrice:      decimal.NewFromInt(1000),
		TotalShares:     100,
		AvailableShares: 100,
		Status:          status,
		ManagerID:       uuid.New(),
	}
	require.NoError(t, s.InTx(context.Background(), func(tx *Tx) error { return tx.CreatePool(p) }))
	return p
}

func TestInTx_RollsBackOnError(t *testing.T) {
	s := setupStore(t)
	pool := seedPool(t, s, domain.PoolSeeking)
	boom := errors.New("boom")

	err := s.InTx(context.Background(), func(tx *Tx) error {
		locked, err := tx.GetPoolForUpdate(pool.PoolID)
		require.NoError(t, err)
		locked.AvailableShares = 1
		require.NoError(t, tx.SavePool(locked))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.Read(context.Background()).GetPool(pool.PoolID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.AvailableShares)
}

func TestGetPool_NotFound(t *testing.T) {
	s := setupStore(t)
	_, err := s.Read(context.Background()).GetPool(uuid.New())
	assert.ErrorIs(t, err, domain.ErrPoolNotFound)
	assert.Equal(t, domain.CodeNotFound, domain.CodeOf(err))
}

func TestUpdatePool_OnlySetFields(t *testing.T) {
	s := setupStore(t)
	pool := seedPool(t, s, domain.PoolSeeking)
	now := time.Now().UTC().Truncate(time.Second)

	var got *domain.Pool
	err := s.InTx(context.Background(), func(tx *Tx) error {
		var err error
		got, err = tx.UpdatePool(pool.PoolID, PoolUpdate{
			Status:                  optional.Some(domain.PoolActive),
			CancellationRequestedAt: optional.Some(now),
		})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PoolActive, got.Status)
	assert.Equal(t, "Harbor Lofts", got.Name)
	assert.Equal(t, int64(100), got.AvailableShares)
	require.NotNil(t, got.CancellationRequestedAt)
	assert.True(t, now.Equal(got.CancellationRequestedAt.UTC()))

	_, err = s.Read(context.Background()).UpdatePool(uuid.New(), PoolUpdate{Name: optional.Some("x")})
	assert.ErrorIs(t, err, domain.ErrPoolNotFound)
}

func TestListPools_HidesOtherManagersDrafts(t *testing.T) {
	s := setupStore(t)
	draft := seedPool(t, s, domain.PoolDraft)
	seedPool(t, s, domain.PoolSeeking)

	stranger := domain.Actor{UserID: uuid.New(), Role: "investor"}
	pools, total, err := s.Read(context.Background()).ListPools(PoolFilter{Viewer: &stranger})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, pools, 1)

	manager := domain.Actor{UserID: draft.ManagerID, Role: "manager"}
	_, total, err = s.Read(context.Background()).ListPools(PoolFilter{Viewer: &manager})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	_, total, err = s.Read(context.Background()).ListPools(PoolFilter{Status: optional.Some(domain.PoolDraft)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestPositions_UpsertListDelete(t *testing.T) {
	s := setupStore(t)
	pool := seedPool(t, s, domain.PoolSeeking)
	ctx := context.Background()

	confirmed := &domain.Position{PoolID: pool.PoolID, UserID: uuid.New(), Shares: 10,
		AmountInvested: decimal.NewFromInt(10000), SharePriceAtPurchase: pool.SharePrice, PaymentStatus: domain.PaymentConfirmed}
	pending := &domain.Position{PoolID: pool.PoolID, UserID: uuid.New(), PendingShares: 5,
		PendingAmount: decimal.NewFromInt(5000), SharePriceAtPurchase: pool.SharePrice, PaymentStatus: domain.PaymentPending}
	failed := &domain.Position{PoolID: pool.PoolID, UserID: uuid.New(),
		SharePriceAtPurchase: pool.SharePrice, PaymentStatus: domain.PaymentFailed}

	require.NoError(t, s.InTx(ctx, func(tx *Tx) error {
		for _, p := range []*domain.Position{confirmed, pending, failed} {
			if err := tx.UpsertPosition(p); err != nil {
				return err
			}
		}
		return nil
	}))
	assert.NotEqual(t, uuid.Nil, confirmed.PositionID)

	r := s.Read(ctx)
	c, err := r.ListConfirmedPositions(pool.PoolID)
	require.NoError(t, err)
	require.Len(t, c, 1)
	assert.Equal(t, confirmed.PositionID, c[0].PositionID)

	open, err := r.ListOpenPositions(pool.PoolID)
	require.NoError(t, err)
	assert.Len(t, open, 2)

	pending.PendingShares = 7
	require.NoError(t, s.InTx(ctx, func(tx *Tx) error { return tx.UpsertPosition(pending) }))
	got, err := r.GetPosition(pool.PoolID, pending.UserID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.PendingShares)

	require.NoError(t, s.InTx(ctx, func(tx *Tx) error { return tx.DeletePosition(failed.PositionID) }))
	_, err = r.GetPositionByID(failed.PositionID)
	assert.ErrorIs(t, err, domain.ErrPositionNotFound)
}

func TestFindCharge_FallsBackThroughKeys(t *testing.T) {
	s := setupStore(t)
	pool := seedPool(t, s, domain.PoolSeeking)
	ctx := context.Background()
	ref := "pi_123"
	c := &domain.Charge{PoolID: pool.PoolID, PositionID: uuid.New(), UserID: uuid.New(), Shares: 3,
		Amount: decimal.NewFromInt(3000), AmountCents: 300000, Currency: "usd", Status: domain.ChargePending,
		ChargeRef: &ref, ReservedUntil: time.Now().UTC().Add(time.Hour)}
	require.NoError(t, s.InTx(ctx, func(tx *Tx) error { return tx.CreateCharge(c) }))

	r := s.Read(ctx)
	got, err := r.FindCharge(ChargeLookup{ChargeID: c.ChargeID})
	require.NoError(t, err)
	assert.Equal(t, c.ChargeID, got.ChargeID)

	got, err = r.FindCharge(ChargeLookup{ChargeID: uuid.New(), Ref: ref})
	require.NoError(t, err)
	assert.Equal(t, c.ChargeID, got.ChargeID)

	got, err = r.FindCharge(ChargeLookup{PoolID: pool.PoolID, UserID: c.UserID, Shares: 3})
	require.NoError(t, err)
	assert.Equal(t, c.ChargeID, got.ChargeID)

	_, err = r.FindCharge(ChargeLookup{Ref: "pi_unknown"})
	assert.ErrorIs(t, err, domain.ErrChargeNotFound)
}

func TestListExpiredReservations(t *testing.T) {
	s := setupStore(t)
	pool := seedPool(t, s, domain.PoolSeeking)
	ctx := context.Background()
	now := time.Now().UTC()

	mk := func(status domain.ChargeStatus, until time.Time) *domain.Charge {
		return &domain.Charge{PoolID: pool.PoolID, PositionID: uuid.New(), UserID: uuid.New(), Shares: 1,
			Amount: decimal.NewFromInt(1000), AmountCents: 100000, Currency: "usd", Status: status, ReservedUntil: until}
	}
	expired := mk(domain.ChargePending, now.Add(-time.Minute))
	live := mk(domain.ChargeReserved, now.Add(time.Hour))
	done := mk(domain.ChargeSucceeded, now.Add(-time.Hour))
	require.NoError(t, s.InTx(ctx, func(tx *Tx) error {
		for _, c := range []*domain.Charge{expired, live, done} {
			if err := tx.CreateCharge(c); err != nil {
				return err
			}
		}
		return nil
	}))

	got, err := s.Read(ctx).ListExpiredReservations(now, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, expired.ChargeID, got[0].ChargeID)

	n, err := s.Read(ctx).CountHoldingCharges(pool.PoolID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestClaimDistribution_OnlyOnce(t *testing.T) {
	s := setupStore(t)
	pool := seedPool(t, s, domain.PoolFunded)
	ctx := context.Background()
	d := domain.Distribution{BatchID: uuid.New(), PoolID: pool.PoolID, PositionID: uuid.New(), UserID: uuid.New(),
		Type: domain.DistributionIncome, Period: "2024-Q1", OwnershipPercent: decimal.NewFromInt(100),
		GrossAmount: decimal.NewFromInt(10), NetAmount: decimal.NewFromInt(10), Status: domain.DistributionPending}
	rows := []domain.Distribution{d}
	require.NoError(t, s.InTx(ctx, func(tx *Tx) error { return tx.CreateDistributionBatch(rows) }))
	id := rows[0].DistributionID
	require.NotEqual(t, uuid.Nil, id)

	method := "ach"
	ok, err := s.Read(ctx).ClaimDistribution(id, &method)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Read(ctx).ClaimDistribution(id, &method)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.Read(ctx).GetDistribution(id)
	require.NoError(t, err)
	assert.Equal(t, domain.DistributionProcessing, got.Status)

	list, err := s.Read(ctx).ListDistributions(DistributionFilter{PoolID: optional.Some(pool.PoolID)})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
