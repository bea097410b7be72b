package refunds

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/matheusvidal/solara-backend/pkg/db/models"
	"github.com/matheusvidal/solara-backend/pkg/enums"
	"github.com/matheusvidal/solara-backend/pkg/pagination"
)

// Repository defines persistence operations for refund requests.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, request *models.RefundRequest) (*models.RefundRequest, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.RefundRequest, error)
	HasOpenForPayment(ctx context.Context, paymentID uuid.UUID) (bool, error)
	ListForBuyer(ctx context.Context, buyerID uuid.UUID, params pagination.Params) (*RefundRequestList, error)
	ListForSeller(ctx context.Context, sellerID uuid.UUID, params pagination.Params) (*RefundRequestList, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
	TransitionStatus(ctx context.Context, id uuid.UUID, from enums.RefundRequestStatus, updates map[string]any) (bool, error)
}

// RefundRequestList is a cursor page of refund requests.
type RefundRequestList struct {
	Requests   []models.RefundRequest
	NextCursor string
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a refunds repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, request *models.RefundRequest) (*models.RefundRequest, error) {
	if err := r.db.WithContext(ctx).Create(request).Error; err != nil {
		return nil, err
	}
	return request, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.RefundRequest, error) {
	var request models.RefundRequest
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&request).Error
	if err != nil {
		return nil, err
	}
	return &request, nil
}

// HasOpenForPayment reports whether a pending or approved request already
// blocks a new one for the same payment.
func (r *repository) HasOpenForPayment(ctx context.Context, paymentID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.RefundRequest{}).
		Where("payment_id = ? AND status IN ?", paymentID,
			[]enums.RefundRequestStatus{enums.RefundRequestStatusPending, enums.RefundRequestStatusApproved}).
		Count(&count).Error
	return count > 0, err
}

func (r *repository) ListForBuyer(ctx context.Context, buyerID uuid.UUID, params pagination.Params) (*RefundRequestList, error) {
	query := r.db.WithContext(ctx).
		Model(&models.RefundRequest{}).
		Where("buyer_id = ?", buyerID)
	return r.list(query, params)
}

func (r *repository) ListForSeller(ctx context.Context, sellerID uuid.UUID, params pagination.Params) (*RefundRequestList, error) {
	query := r.db.WithContext(ctx).
		Model(&models.RefundRequest{}).
		Where("seller_id = ?", sellerID)
	return r.list(query, params)
}

func (r *repository) list(query *gorm.DB, params pagination.Params) (*RefundRequestList, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, err
	}
	if cursor != nil {
		query = query.Where(
			"(created_at < ?) OR (created_at = ? AND id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID,
		)
	}

	limit := pagination.NormalizeLimit(params.Limit)
	var rows []models.RefundRequest
	err = query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(pagination.LimitWithBuffer(params.Limit)).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	result := &RefundRequestList{Requests: rows}
	if len(rows) > limit {
		result.Requests = rows[:limit]
		last := result.Requests[limit-1]
		result.NextCursor = pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}
	return result, nil
}

func (r *repository) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.RefundRequest{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// TransitionStatus applies updates only when the request is still in the
// expected state.
func (r *repository) TransitionStatus(ctx context.Context, id uuid.UUID, from enums.RefundRequestStatus, updates map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.RefundRequest{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
