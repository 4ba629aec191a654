package ledger

import (
	"coinvest-backend/internal/domain"
	"coinvest-backend/internal/pkg/optional"

	"github.com/google/uuid"
)

// CreateDistributionBatch inserts one batch of distributions atomically with the caller's transaction.
func (t *Tx) CreateDistributionBatch(rows []domain.Distribution) error {
	if len(rows) == 0 {
		return nil
	}
	return t.db.Create(&rows).Error
}

func (t *Tx) GetDistribution(id uuid.UUID) (*domain.Distribution, error) {
	var d domain.Distribution
	if err := t.db.Where("distribution_id = ?", id).First(&d).Error; err != nil {
		return nil, notFound(err, domain.ErrDistributionNotFound)
	}
	return &d, nil
}

func (t *Tx) GetDistributionByTransferRef(ref string) (*domain.Distribution, error) {
	var d domain.Distribution
	if err := t.db.Where("transfer_ref = ?", ref).First(&d).Error; err != nil {
		return nil, notFound(err, domain.ErrDistributionNotFound)
	}
	return &d, nil
}

func (t *Tx) SaveDistribution(d *domain.Distribution) error {
	return t.db.Save(d).Error
}

// ClaimDistribution moves a pending distribution to processing. It reports false when
// another caller already moved it, so only one payout can reach the gateway.
func (t *Tx) ClaimDistribution(id uuid.UUID, paymentMethod *string) (bool, error) {
	res := t.db.Model(&domain.Distribution{}).
		Where("distribution_id = ? AND status = ?", id, domain.DistributionPending).
		Updates(map[string]interface{}{
			"status":         domain.DistributionProcessing,
			"payment_method": paymentMethod,
		})
	return res.RowsAffected == 1, res.Error
}

type DistributionFilter struct {
	PoolID  optional.Option[uuid.UUID]
	BatchID optional.Option[uuid.UUID]
	UserID  optional.Option[uuid.UUID]
	Status  optional.Option[domain.DistributionStatus]
}

func (t *Tx) ListDistributions(f DistributionFilter) ([]domain.Distribution, error) {
	q := t.db.Model(&domain.Distribution{})
	if v, ok := f.PoolID.Get(); ok {
		q = q.Where("pool_id = ?", v)
	}
	if v, ok := f.BatchID.Get(); ok {
		q = q.Where("batch_id = ?", v)
	}
	if v, ok := f.UserID.Get(); ok {
		q = q.Where("user_id = ?", v)
	}
	if v, ok := f.Status.Get(); ok {
		q = q.Where("status = ?", v)
	}
	var out []domain.Distribution
	err := q.Order(`"createdAt" DESC, distribution_id ASC`).Find(&out).Error
	return out, err
}
