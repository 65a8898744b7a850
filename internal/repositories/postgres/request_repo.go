package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/kelvana/presetsmith/internal/models"
	"github.com/kelvana/presetsmith/internal/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type RequestRepository interface {
	Upsert(ctx context.Context, r *models.InferenceRequest) error
	FindByID(ctx context.Context, id string) (*models.InferenceRequest, error)
	ListByStatus(ctx context.Context, status models.RequestStatus) ([]models.InferenceRequest, error)
	ListBySynth(ctx context.Context, synth string) ([]models.InferenceRequest, error)
	UpdateStatus(ctx context.Context, id string, status models.RequestStatus) error
}

type requestRepo struct {
	db *gorm.DB
}

func NewRequestRepo(db *gorm.DB) RequestRepository {
	return &requestRepo{db: db}
}

// Upsert inserts the record, or on id conflict rewrites only the mutable
// columns. Fields set at creation (model, synth, audio refs, sizes,
// created_at) are preserved from the first write.
func (r *requestRepo) Upsert(ctx context.Context, req *models.InferenceRequest) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "updated_at", "result_ref", "error", "meta"}),
		}).
		Create(req).Error
}

func (r *requestRepo) FindByID(ctx context.Context, id string) (*models.InferenceRequest, error) {
	var req models.InferenceRequest
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		Take(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	return &req, err
}

func (r *requestRepo) ListByStatus(ctx context.Context, status models.RequestStatus) ([]models.InferenceRequest, error) {
	var out []models.InferenceRequest
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}

func (r *requestRepo) ListBySynth(ctx context.Context, synth string) ([]models.InferenceRequest, error) {
	var out []models.InferenceRequest
	err := r.db.WithContext(ctx).
		Where("synth = ?", synth).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}

func (r *requestRepo) UpdateStatus(ctx context.Context, id string, status models.RequestStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.InferenceRequest{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     status,
			"updated_at": time.Now().UTC(),
		}).Error
}
