package ledger

import (
	"time"

	"coinvest-backend/internal/domain"

	"github.com/google/uuid"
)

func (t *Tx) CreateCharge(c *domain.Charge) error {
	return t.db.Create(c).Error
}

func (t *Tx) SaveCharge(c *domain.Charge) error {
	return t.db.Save(c).Error
}

func (t *Tx) GetCharge(id uuid.UUID) (*domain.Charge, error) {
	var c domain.Charge
	if err := t.db.Where("charge_id = ?", id).First(&c).Error; err != nil {
		return nil, notFound(err, domain.ErrChargeNotFound)
	}
	return &c, nil
}

func (t *Tx) GetChargeByRef(ref string) (*domain.Charge, error) {
	var c domain.Charge
	if err := t.db.Where("charge_ref = ?", ref).First(&c).Error; err != nil {
		return nil, notFound(err, domain.ErrChargeNotFound)
	}
	return &c, nil
}

// ChargeLookup carries every correlation key a gateway event may provide.
type ChargeLookup struct {
	ChargeID uuid.UUID
	Ref      string
	PoolID   uuid.UUID
	UserID   uuid.UUID
	Shares   int64
}

// FindCharge resolves a gateway event to its charge: by charge id, then by gateway
// reference, then by the newest charge matching (pool, user, shares).
func (t *Tx) FindCharge(l ChargeLookup) (*domain.Charge, error) {
	if l.ChargeID != uuid.Nil {
		c, err := t.GetCharge(l.ChargeID)
		if err == nil || !domain.HasCode(err, domain.CodeNotFound) {
			return c, err
		}
	}
	if l.Ref != "" {
		c, err := t.GetChargeByRef(l.Ref)
		if err == nil || !domain.HasCode(err, domain.CodeNotFound) {
			return c, err
		}
	}
	if l.PoolID == uuid.Nil || l.UserID == uuid.Nil || l.Shares <= 0 {
		return nil, domain.ErrChargeNotFound
	}
	var c domain.Charge
	err := t.db.Where("pool_id = ? AND user_id = ? AND shares = ?", l.PoolID, l.UserID, l.Shares).
		Order(`"createdAt" DESC`).First(&c).Error
	if err != nil {
		return nil, notFound(err, domain.ErrChargeNotFound)
	}
	return &c, nil
}

// ListPositionCharges returns a position's charges in the given statuses, oldest first.
func (t *Tx) ListPositionCharges(positionID uuid.UUID, statuses ...domain.ChargeStatus) ([]domain.Charge, error) {
	q := t.db.Where("position_id = ?", positionID)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	var out []domain.Charge
	err := q.Order(`"createdAt" ASC`).Find(&out).Error
	return out, err
}

// CountHoldingCharges counts charges of a pool still holding a share reservation.
func (t *Tx) CountHoldingCharges(poolID uuid.UUID) (int64, error) {
	var n int64
	err := t.db.Model(&domain.Charge{}).
		Where("pool_id = ? AND status IN ?", poolID, []domain.ChargeStatus{domain.ChargeReserved, domain.ChargePending}).
		Count(&n).Error
	return n, err
}

// ListExpiredReservations returns up to limit holding charges whose reservation lapsed before now.
func (t *Tx) ListExpiredReservations(now time.Time, limit int) ([]domain.Charge, error) {
	var out []domain.Charge
	err := t.db.Where("status IN ? AND reserved_until < ?",
		[]domain.ChargeStatus{domain.ChargeReserved, domain.ChargePending}, now).
		Order("reserved_until ASC").Limit(limit).Find(&out).Error
	return out, err
}
