package ledger

import (
	"coinvest-backend/internal/domain"

	"github.com/google/uuid"
)

func (t *Tx) GetPosition(poolID, userID uuid.UUID) (*domain.Position, error) {
	var p domain.Position
	if err := t.db.Where("pool_id = ? AND user_id = ?", poolID, userID).First(&p).Error; err != nil {
		return nil, notFound(err, domain.ErrPositionNotFound)
	}
	return &p, nil
}

func (t *Tx) GetPositionByID(id uuid.UUID) (*domain.Position, error) {
	var p domain.Position
	if err := t.db.Where("position_id = ?", id).First(&p).Error; err != nil {
		return nil, notFound(err, domain.ErrPositionNotFound)
	}
	return &p, nil
}

// UpsertPosition inserts a new position (zero PositionID) or writes every column of an existing one.
func (t *Tx) UpsertPosition(p *domain.Position) error {
	if p.PositionID == uuid.Nil {
		return t.db.Create(p).Error
	}
	return t.db.Save(p).Error
}

func (t *Tx) DeletePosition(id uuid.UUID) error {
	return t.db.Where("position_id = ?", id).Delete(&domain.Position{}).Error
}

// ListPositions returns every position of a pool, oldest first.
func (t *Tx) ListPositions(poolID uuid.UUID) ([]domain.Position, error) {
	var out []domain.Position
	err := t.db.Where("pool_id = ?", poolID).Order(`"createdAt" ASC, position_id ASC`).Find(&out).Error
	return out, err
}

// ListConfirmedPositions returns positions carrying confirmed shares, in a stable order.
func (t *Tx) ListConfirmedPositions(poolID uuid.UUID) ([]domain.Position, error) {
	var out []domain.Position
	err := t.db.Where("pool_id = ? AND payment_status = ? AND shares > 0", poolID, domain.PaymentConfirmed).
		Order(`"createdAt" ASC, position_id ASC`).Find(&out).Error
	return out, err
}

// ListOpenPositions returns pending and confirmed positions.
func (t *Tx) ListOpenPositions(poolID uuid.UUID) ([]domain.Position, error) {
	var out []domain.Position
	err := t.db.Where("pool_id = ? AND payment_status IN ?", poolID,
		[]domain.PaymentStatus{domain.PaymentPending, domain.PaymentConfirmed}).
		Order(`"createdAt" ASC, position_id ASC`).Find(&out).Error
	return out, err
}

// ListUserPositions returns all positions held by one investor across pools.
func (t *Tx) ListUserPositions(userID uuid.UUID) ([]domain.Position, error) {
	var out []domain.Position
	err := t.db.Where("user_id = ?", userID).Order(`"createdAt" DESC`).Find(&out).Error
	return out, err
}
