package reporting

import (
	"context"

	"github.com/soundledger/royaltystream/internal/domain"
	"github.com/soundledger/royaltystream/internal/repository"

	"github.com/google/uuid"
)

// Service exposes the normalized transaction store to downstream reporting
// callers: filtered listing plus direct record management.
type Service struct {
	transactions repository.TransactionRepository
}

// NewService creates a new reporting service.
func NewService(transactions repository.TransactionRepository) *Service {
	return &Service{transactions: transactions}
}

// List returns transactions matching the filter with a total count.
func (s *Service) List(ctx context.Context, filter repository.TransactionFilter, limit int, offset int) ([]domain.Transaction, int, error) {
	return s.transactions.List(ctx, filter, limit, offset)
}

// Get returns one transaction.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (domain.Transaction, error) {
	return s.transactions.GetByID(ctx, id)
}

// Delete removes one transaction.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.transactions.Delete(ctx, id)
}
