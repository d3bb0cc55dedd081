package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/sraws/backend/internal/models"
	"gorm.io/gorm"
)

// DeliveryRepository keeps the delivery audit trail in PostgreSQL.
type DeliveryRepository interface {
	RecordAttempts(ctx context.Context, attempts []models.DeliveryAttempt) error
	RecordDigestRun(ctx context.Context, run *models.DigestRun) error
	ListAttempts(ctx context.Context, notificationID string) ([]models.DeliveryAttempt, error)
}

type GormDeliveryRepository struct {
	db *gorm.DB
}

func NewGormDeliveryRepository(db *gorm.DB) *GormDeliveryRepository {
	return &GormDeliveryRepository{db: db}
}

// AutoMigrate creates or updates the audit tables.
func (r *GormDeliveryRepository) AutoMigrate() error {
	return r.db.AutoMigrate(&models.DeliveryAttempt{}, &models.DigestRun{})
}

func (r *GormDeliveryRepository) RecordAttempts(ctx context.Context, attempts []models.DeliveryAttempt) error {
	if len(attempts) == 0 {
		return nil
	}
	for i := range attempts {
		if attempts[i].ID == "" {
			attempts[i].ID = uuid.NewString()
		}
	}
	return r.db.WithContext(ctx).Create(&attempts).Error
}

func (r *GormDeliveryRepository) RecordDigestRun(ctx context.Context, run *models.DigestRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

func (r *GormDeliveryRepository) ListAttempts(ctx context.Context, notificationID string) ([]models.DeliveryAttempt, error) {
	var attempts []models.DeliveryAttempt
	err := r.db.WithContext(ctx).
		Where("notification_id = ?", notificationID).
		Order("created_at asc").
		Find(&attempts).Error
	return attempts, err
}
