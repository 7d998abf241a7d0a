package repository

import (
	"context"
	"time"

	"github.com/GoPolymarket/polysignal/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	auditTable       = "governance_audit"
	defaultListLimit = 100
	maxListLimit     = 1000
)

// PostgresAuditRepo stores audit entries append-only. Re-inserting an id is a no-op.
type PostgresAuditRepo struct {
	db *gorm.DB
}

func NewPostgresAuditRepo(db *gorm.DB) (*PostgresAuditRepo, error) {
	repo := &PostgresAuditRepo{db: db}
	if err := db.Table(auditTable).AutoMigrate(&model.AuditEntry{}); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *PostgresAuditRepo) Insert(ctx context.Context, entry *model.AuditEntry) error {
	if entry == nil {
		return nil
	}
	return r.db.WithContext(ctx).
		Table(auditTable).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(entry).Error
}

// List returns matching entries, newest first.
func (r *PostgresAuditRepo) List(ctx context.Context, filter model.AuditFilter) ([]*model.AuditEntry, error) {
	records := make([]*model.AuditEntry, 0)
	err := listQuery(r.db.WithContext(ctx), filter).Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func listQuery(tx *gorm.DB, filter model.AuditFilter) *gorm.DB {
	limit := filter.Limit
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	q := tx.Table(auditTable)
	if filter.Event != "" {
		q = q.Where("event = ?", filter.Event)
	}
	if filter.From != nil {
		q = q.Where(`"timestamp" >= ?`, *filter.From)
	}
	if filter.To != nil {
		q = q.Where(`"timestamp" <= ?`, *filter.To)
	}
	return q.Order(`"timestamp" DESC`).Limit(limit)
}

// Cleanup deletes entries older than the retention window.
func (r *PostgresAuditRepo) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	res := r.db.WithContext(ctx).Table(auditTable).Where(`"timestamp" < ?`, cutoff).Delete(&model.AuditEntry{})
	return res.RowsAffected, res.Error
}
