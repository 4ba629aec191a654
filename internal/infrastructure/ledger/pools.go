package ledger

import (
	"time"

	"coinvest-backend/internal/domain"
	"coinvest-backend/internal/pkg/optional"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PoolUpdate is a partial pool write; unset fields are left untouched.
type PoolUpdate struct {
	Name                    optional.Option[string]
	TargetAmount            optional.Option[decimal.Decimal]
	MinInvestment           optional.Option[decimal.Decimal]
	MaxInvestment           optional.Option[decimal.Decimal]
	SharePrice              optional.Option[decimal.Decimal]
	TotalShares             optional.Option[int64]
	AvailableShares         optional.Option[int64]
	RaisedAmount            optional.Option[decimal.Decimal]
	ExpectedReturn          optional.Option[decimal.Decimal]
	ManagementFeePercent    optional.Option[decimal.Decimal]
	Status                  optional.Option[domain.PoolStatus]
	FundingDeadline         optional.Option[time.Time]
	StartDate               optional.Option[time.Time]
	CancellationRequestedAt optional.Option[time.Time]
	CancelledAt             optional.Option[time.Time]
	CancellationReason      optional.Option[string]
}

func (u PoolUpdate) columns() map[string]interface{} {
	cols := map[string]interface{}{}
	if v, ok := u.Name.Get(); ok {
		cols["name"] = v
	}
	if v, ok := u.TargetAmount.Get(); ok {
		cols["target_amount"] = v
	}
	if v, ok := u.MinInvestment.Get(); ok {
		cols["min_investment"] = v
	}
	if v, ok := u.MaxInvestment.Get(); ok {
		cols["max_investment"] = v
	}
	if v, ok := u.SharePrice.Get(); ok {
		cols["share_price"] = v
	}
	if v, ok := u.TotalShares.Get(); ok {
		cols["total_shares"] = v
	}
	if v, ok := u.AvailableShares.Get(); ok {
		cols["available_shares"] = v
	}
	if v, ok := u.RaisedAmount.Get(); ok {
		cols["raised_amount"] = v
	}
	if v, ok := u.ExpectedReturn.Get(); ok {
		cols["expected_return"] = v
	}
	if v, ok := u.ManagementFeePercent.Get(); ok {
		cols["management_fee_percent"] = v
	}
	if v, ok := u.Status.Get(); ok {
		cols["status"] = v
	}
	if v, ok := u.FundingDeadline.Get(); ok {
		cols["funding_deadline"] = v
	}
	if v, ok := u.StartDate.Get(); ok {
		cols["start_date"] = v
	}
	if v, ok := u.CancellationRequestedAt.Get(); ok {
		cols["cancellation_requested_at"] = v
	}
	if v, ok := u.CancelledAt.Get(); ok {
		cols["cancelled_at"] = v
	}
	if v, ok := u.CancellationReason.Get(); ok {
		cols["cancellation_reason"] = v
	}
	return cols
}

// PoolFilter narrows ListPools. Viewer hides other managers' drafts unless admin.
type PoolFilter struct {
	Status    optional.Option[domain.PoolStatus]
	ManagerID optional.Option[uuid.UUID]
	Viewer    *domain.Actor
	Limit     int
	Offset    int
}

func (t *Tx) CreatePool(p *domain.Pool) error {
	return t.db.Create(p).Error
}

func (t *Tx) SlugTaken(slug string) (bool, error) {
	var n int64
	err := t.db.Model(&domain.Pool{}).Where("slug = ?", slug).Count(&n).Error
	return n > 0, err
}

func (t *Tx) GetPool(id uuid.UUID) (*domain.Pool, error) {
	var p domain.Pool
	if err := t.db.Where("pool_id = ?", id).First(&p).Error; err != nil {
		return nil, notFound(err, domain.ErrPoolNotFound)
	}
	return &p, nil
}

// GetPoolForUpdate loads the pool holding its row lock until the transaction ends.
func (t *Tx) GetPoolForUpdate(id uuid.UUID) (*domain.Pool, error) {
	var p domain.Pool
	if err := t.forUpdate().Where("pool_id = ?", id).First(&p).Error; err != nil {
		return nil, notFound(err, domain.ErrPoolNotFound)
	}
	return &p, nil
}

func (t *Tx) GetPoolBySlug(slug string) (*domain.Pool, error) {
	var p domain.Pool
	if err := t.db.Where("slug = ?", slug).First(&p).Error; err != nil {
		return nil, notFound(err, domain.ErrPoolNotFound)
	}
	return &p, nil
}

// SavePool writes every column of p.
func (t *Tx) SavePool(p *domain.Pool) error {
	return t.db.Save(p).Error
}

// UpdatePool applies a partial update and reloads the row.
func (t *Tx) UpdatePool(id uuid.UUID, u PoolUpdate) (*domain.Pool, error) {
	cols := u.columns()
	if len(cols) > 0 {
		res := t.db.Model(&domain.Pool{}).Where("pool_id = ?", id).Updates(cols)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			return nil, domain.ErrPoolNotFound
		}
	}
	return t.GetPool(id)
}

func (t *Tx) ListPools(f PoolFilter) ([]domain.Pool, int64, error) {
	q := t.db.Model(&domain.Pool{})
	if s, ok := f.Status.Get(); ok {
		q = q.Where("status = ?", s)
	}
	if m, ok := f.ManagerID.Get(); ok {
		q = q.Where("manager_id = ?", m)
	}
	if f.Viewer != nil && !f.Viewer.IsAdmin() {
		q = q.Where("status <> ? OR manager_id = ?", domain.PoolDraft, f.Viewer.UserID)
	}
	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var pools []domain.Pool
	err := q.Order(`"createdAt" DESC`).Limit(limit).Offset(f.Offset).Find(&pools).Error
	return pools, total, err
}

// PoolIDsWithCancellationPending returns pools whose cancellation was requested before
// the given instant and never finished.
func (t *Tx) PoolIDsWithCancellationPending(requestedBefore time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := t.db.Model(&domain.Pool{}).
		Where("cancellation_requested_at IS NOT NULL AND cancellation_requested_at < ? AND status <> ?", requestedBefore, domain.PoolCancelled).
		Order("cancellation_requested_at ASC").
		Pluck("pool_id", &ids).Error
	return ids, err
}
