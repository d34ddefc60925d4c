package repository

import (
	"context"
	"errors"
	"sort"
	"sync"

	"fgcmatch/internal/domain"
	"fgcmatch/internal/models"

	"gorm.io/gorm"
)

// PaymentJournal records real-money deposits locally so that a charge the
// provider confirmed but the ledger never credited survives a restart.
type PaymentJournal interface {
	Create(ctx context.Context, p *models.Payment) error
	GetByID(ctx context.Context, id string) (*models.Payment, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*models.Payment, error)
	Update(ctx context.Context, p *models.Payment) error
	// ListByStatus lists a user's payments in status, or everyone's when userID is empty.
	ListByStatus(ctx context.Context, userID, status string) ([]models.Payment, error)
}

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func notFound(op string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Wrap(domain.ErrNotFound, op, err)
	}
	return err
}

func (r *PaymentRepository) Create(ctx context.Context, p *models.Payment) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *PaymentRepository) GetByID(ctx context.Context, id string) (*models.Payment, error) {
	var p models.Payment
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, notFound("get payment", err)
	}
	return &p, nil
}

func (r *PaymentRepository) GetByIdempotencyKey(ctx context.Context, key string) (*models.Payment, error) {
	var p models.Payment
	if err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&p).Error; err != nil {
		return nil, notFound("get payment", err)
	}
	return &p, nil
}

func (r *PaymentRepository) Update(ctx context.Context, p *models.Payment) error {
	return r.db.WithContext(ctx).Save(p).Error
}

func (r *PaymentRepository) ListByStatus(ctx context.Context, userID, status string) ([]models.Payment, error) {
	var list []models.Payment
	q := r.db.WithContext(ctx).Where("status = ?", status)
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	err := q.Order("created_at DESC").Find(&list).Error
	return list, err
}

// MemoryPaymentJournal keeps the journal in process memory. It is used when no
// database is configured and in tests.
type MemoryPaymentJournal struct {
	mu   sync.Mutex
	rows map[string]models.Payment
}

func NewMemoryPaymentJournal() *MemoryPaymentJournal {
	return &MemoryPaymentJournal{rows: make(map[string]models.Payment)}
}

func (m *MemoryPaymentJournal) Create(_ context.Context, p *models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[p.ID]; ok {
		return domain.E(domain.ErrConflict, "create payment", "duplicate payment id")
	}
	for _, row := range m.rows {
		if p.IdempotencyKey != "" && row.IdempotencyKey == p.IdempotencyKey {
			return domain.E(domain.ErrConflict, "create payment", "duplicate idempotency key")
		}
	}
	m.rows[p.ID] = *p
	return nil
}

func (m *MemoryPaymentJournal) GetByID(_ context.Context, id string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[id]
	if !ok {
		return nil, domain.E(domain.ErrNotFound, "get payment", "payment not found")
	}
	return &p, nil
}

func (m *MemoryPaymentJournal) GetByIdempotencyKey(_ context.Context, key string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.rows {
		if p.IdempotencyKey == key {
			return &p, nil
		}
	}
	return nil, domain.E(domain.ErrNotFound, "get payment", "payment not found")
}

func (m *MemoryPaymentJournal) Update(_ context.Context, p *models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[p.ID]; !ok {
		return domain.E(domain.ErrNotFound, "update payment", "payment not found")
	}
	m.rows[p.ID] = *p
	return nil
}

func (m *MemoryPaymentJournal) ListByStatus(_ context.Context, userID, status string) ([]models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Payment
	for _, p := range m.rows {
		if (userID == "" || p.UserID == userID) && p.Status == status {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
