package analytics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/hashednetwork/transito-hp/internal/config"
	"github.com/hashednetwork/transito-hp/pkg/logger"
)

var (
	dbInstance *gorm.DB
	once       sync.Once
	initErr    error
)

// getDB opens the MySQL connection once per process.
func getDB(cfg *config.MySQLConfig) (*gorm.DB, error) {
	once.Do(func() {
		dsn := fmt.Sprintf("%s:%s@tcp(%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			cfg.Username, cfg.Password, cfg.Address, cfg.Database)

		db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
		if err != nil {
			initErr = fmt.Errorf("failed to connect to mysql: %w", err)
			return
		}

		sqlDB, err := db.DB()
		if err != nil {
			initErr = fmt.Errorf("failed to get underlying sql db: %w", err)
			return
		}
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(time.Hour)

		dbInstance = db
	})
	return dbInstance, initErr
}

// Stats is the aggregate usage report.
type Stats struct {
	TotalUsers    int64 `json:"total_users"`
	TotalQueries  int64 `json:"total_queries"`
	QueriesToday  int64 `json:"queries_today"`
	FallbackCount int64 `json:"fallback_count"`
}

// Store persists users and query records.
type Store struct {
	db  *gorm.DB
	log *logger.Logger
}

// NewStore connects to MySQL and migrates the schema.
func NewStore(cfg *config.MySQLConfig, log *logger.Logger) (*Store, error) {
	db, err := getDB(cfg)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&User{}, &QueryRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate analytics schema: %w", err)
	}
	return &Store{db: db, log: log}, nil
}

// TrackQuery upserts the user and records the answered question.
// Analytics failures are logged, never surfaced: a stats outage must
// not break question answering.
func (s *Store) TrackQuery(ctx context.Context, userID, username, question string, grounded bool, chunksUsed int, latency time.Duration) {
	db := s.db.WithContext(ctx)

	user := User{UserID: userID, Username: username}
	if err := db.Where(User{UserID: userID}).
		Assign(User{Username: username, LastSeen: time.Now()}).
		FirstOrCreate(&user).Error; err != nil {
		s.log.WithField("user_id", userID).WithError(err).Warn("failed to upsert user")
	}

	rec := QueryRecord{
		UserID:     userID,
		Question:   question,
		Grounded:   grounded,
		ChunksUsed: chunksUsed,
		LatencyMs:  latency.Milliseconds(),
	}
	if err := db.Create(&rec).Error; err != nil {
		s.log.WithField("user_id", userID).WithError(err).Warn("failed to record query")
	}
}

// DailyCount returns how many questions a user asked today (UTC).
func (s *Store) DailyCount(ctx context.Context, userID string) (int64, error) {
	midnight := time.Now().UTC().Truncate(24 * time.Hour)
	var count int64
	err := s.db.WithContext(ctx).Model(&QueryRecord{}).
		Where("user_id = ? AND created_at >= ?", userID, midnight).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count daily queries: %w", err)
	}
	return count, nil
}

// Aggregate computes the usage report.
func (s *Store) Aggregate(ctx context.Context) (*Stats, error) {
	db := s.db.WithContext(ctx)
	var stats Stats

	if err := db.Model(&User{}).Count(&stats.TotalUsers).Error; err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}
	if err := db.Model(&QueryRecord{}).Count(&stats.TotalQueries).Error; err != nil {
		return nil, fmt.Errorf("failed to count queries: %w", err)
	}
	midnight := time.Now().UTC().Truncate(24 * time.Hour)
	if err := db.Model(&QueryRecord{}).
		Where("created_at >= ?", midnight).
		Count(&stats.QueriesToday).Error; err != nil {
		return nil, fmt.Errorf("failed to count today's queries: %w", err)
	}
	if err := db.Model(&QueryRecord{}).
		Where("grounded = ?", false).
		Count(&stats.FallbackCount).Error; err != nil {
		return nil, fmt.Errorf("failed to count fallbacks: %w", err)
	}
	return &stats, nil
}
