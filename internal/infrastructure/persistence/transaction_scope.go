package persistence

import (
	"context"

	appdist "github.com/refnet/backend/internal/application/distribution"
	"github.com/refnet/backend/internal/domain/ledger"
	"github.com/refnet/backend/internal/domain/referral"
	"gorm.io/gorm"
)

// GormTransactionScope implements TransactionScope using GORM transactions.
// It provides atomic execution of multiple repository operations.
type GormTransactionScope struct {
	db *gorm.DB
}

// NewGormTransactionScope creates a new GormTransactionScope.
func NewGormTransactionScope(db *gorm.DB) *GormTransactionScope {
	return &GormTransactionScope{db: db}
}

// Execute runs the given function within a database transaction.
// If the function returns an error, the transaction is rolled back.
// If the function succeeds, the transaction is committed.
func (s *GormTransactionScope) Execute(ctx context.Context, fn func(repos appdist.TransactionalRepositories) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repos := &gormTransactionalRepositories{tx: tx}
		return fn(repos)
	})
}

// gormTransactionalRepositories provides access to all repositories within a transaction.
type gormTransactionalRepositories struct {
	tx *gorm.DB
}

// Users returns the user repository scoped to the current transaction.
func (r *gormTransactionalRepositories) Users() referral.UserRepository {
	return NewGormUserRepository(r.tx)
}

// Records returns the ledger record repository scoped to the current transaction.
func (r *gormTransactionalRepositories) Records() ledger.DistributionRecordRepository {
	return NewGormDistributionRecordRepository(r.tx)
}

// Awards returns the award anchor repository scoped to the current transaction.
func (r *gormTransactionalRepositories) Awards() ledger.AwardRepository {
	return NewGormAwardRepository(r.tx)
}

// Ensure GormTransactionScope implements TransactionScope
var _ appdist.TransactionScope = (*GormTransactionScope)(nil)

// Ensure gormTransactionalRepositories implements TransactionalRepositories
var _ appdist.TransactionalRepositories = (*gormTransactionalRepositories)(nil)
