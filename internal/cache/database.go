package cache

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/leasehub/internal/models"
)

// DatabaseStore implements Store on the primary SQL database for deployments
// without Redis.
type DatabaseStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewDatabaseStore constructs a database-backed Store.
func NewDatabaseStore(db *gorm.DB) (*DatabaseStore, error) {
	if db == nil {
		return nil, errors.New("cache: db is required")
	}
	return &DatabaseStore{db: db, now: time.Now}, nil
}

// IncrementWithTTL increments the counter row for key inside a transaction.
// An expired row restarts the window.
func (s *DatabaseStore) IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	ctx = ensureContext(ctx)
	if window <= 0 {
		window = time.Minute
	}

	now := s.now().UTC()
	var (
		count     int64
		windowEnd time.Time
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var counter models.RateCounter
		err := lockCounter(tx, key).Take(&counter).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			count, windowEnd = 1, now.Add(window)
			return tx.Create(&models.RateCounter{
				Key:       key,
				Count:     count,
				ExpiresAt: windowEnd,
			}).Error
		case err != nil:
			return err
		}

		if !now.Before(counter.ExpiresAt) {
			count, windowEnd = 1, now.Add(window)
		} else {
			count, windowEnd = counter.Count+1, counter.ExpiresAt
		}
		return tx.Model(&counter).Updates(map[string]any{
			"count":      count,
			"expires_at": windowEnd,
		}).Error
	})
	if err != nil {
		return 0, 0, err
	}
	return count, windowEnd.Sub(now), nil
}

// lockCounter selects the counter row for key FOR UPDATE. The column goes
// through clause.Column so it is quoted; KEY is reserved in MySQL.
func lockCounter(tx *gorm.DB, key string) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where(clause.Eq{Column: clause.Column{Name: "key"}, Value: key})
}

// Ping checks the database connection.
func (s *DatabaseStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ensureContext(ctx))
}

// PurgeExpired removes counters whose window has closed.
func (s *DatabaseStore) PurgeExpired(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ensureContext(ctx)).
		Where("expires_at < ?", s.now().UTC()).
		Delete(&models.RateCounter{})
	return result.RowsAffected, result.Error
}
