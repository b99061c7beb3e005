package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"ballot-backend/logging"
	"ballot-backend/models"
)

const pgUniqueViolation = "23505"

// ballotModel is one accepted ballot. The unique index on
// (addr, category_slug) makes every insert a create-if-absent.
type ballotModel struct {
	ID            uint    `gorm:"primaryKey"`
	Addr          string  `gorm:"column:addr;not null;uniqueIndex:idx_ballots_addr_category,priority:1"`
	CategorySlug  string  `gorm:"column:category_slug;not null;uniqueIndex:idx_ballots_addr_category,priority:2"`
	CandidateSlug string  `gorm:"column:candidate_slug;not null"`
	TimeMs        int64   `gorm:"column:time_ms;not null"`
	Msg           string  `gorm:"column:msg;not null"`
	Signature     string  `gorm:"column:signature;not null"`
	Random        string  `gorm:"column:random;not null;default:''"`
	SigFormat     string  `gorm:"column:sig_format;not null"`
	Extra         *string `gorm:"column:extra;type:jsonb"`
	CreatedAt     time.Time
}

func (ballotModel) TableName() string {
	return "ballots"
}

func ballotModelFromVote(v models.Vote) ballotModel {
	row := ballotModel{
		Addr:          v.Addr,
		CategorySlug:  v.CategorySlug,
		CandidateSlug: v.CandidateSlug,
		TimeMs:        v.TimeMs,
		Msg:           v.Msg,
		Signature:     v.Signature,
		Random:        v.Random,
		SigFormat:     v.SigFormat,
	}
	if len(v.Extra) > 0 && string(v.Extra) != "null" {
		extra := string(v.Extra)
		row.Extra = &extra
	}
	return row
}

func (m ballotModel) toVote() models.Vote {
	v := models.Vote{
		TimeMs:        m.TimeMs,
		Addr:          m.Addr,
		Msg:           m.Msg,
		Signature:     m.Signature,
		Random:        m.Random,
		SigFormat:     m.SigFormat,
		CandidateSlug: m.CandidateSlug,
		CategorySlug:  m.CategorySlug,
	}
	if m.Extra != nil {
		v.Extra = json.RawMessage(*m.Extra)
	}
	return v
}

// PostgresStore is a BallotStore for deployments that run several API
// processes against one database.
type PostgresStore struct {
	db     *gorm.DB
	logger *log.Entry
}

// ConnectPostgres opens the database, checks connectivity and migrates the
// ballots table.
func ConnectPostgres(dsn string, logger log.FieldLogger) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("resolve postgres sql db handle: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := NewPostgresStore(db, logger)
	if err := store.Migrate(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStore wraps an open gorm connection.
func NewPostgresStore(db *gorm.DB, logger log.FieldLogger) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: logging.Module(logger, "storage/postgres"),
	}
}

// Migrate creates the ballots table and its unique index.
func (s *PostgresStore) Migrate() error {
	if err := s.db.AutoMigrate(&ballotModel{}); err != nil {
		return fmt.Errorf("migrate ballots: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Exists reports whether a ballot for (addr, category) is stored.
func (s *PostgresStore) Exists(ctx context.Context, addr, category string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&ballotModel{}).
		Where("addr = ? AND category_slug = ?", addr, category).
		Count(&count).
		Error
	if err != nil {
		return false, s.fail("exists", err, addr, category)
	}
	return count > 0, nil
}

// ListByAddress returns the ballots cast by addr, oldest first.
func (s *PostgresStore) ListByAddress(ctx context.Context, addr string) ([]models.Vote, error) {
	var rows []ballotModel
	err := s.db.WithContext(ctx).
		Where("addr = ?", addr).
		Order("time_ms ASC, category_slug ASC").
		Find(&rows).
		Error
	if err != nil {
		return nil, s.fail("list", err, addr, "")
	}

	votes := make([]models.Vote, 0, len(rows))
	for _, row := range rows {
		votes = append(votes, row.toVote())
	}
	return votes, nil
}

// All returns every stored ballot, oldest first.
func (s *PostgresStore) All(ctx context.Context) ([]models.Vote, error) {
	var rows []ballotModel
	err := s.db.WithContext(ctx).
		Order("time_ms ASC, addr ASC, category_slug ASC").
		Find(&rows).
		Error
	if err != nil {
		return nil, s.fail("list_all", err, "", "")
	}

	votes := make([]models.Vote, 0, len(rows))
	for _, row := range rows {
		votes = append(votes, row.toVote())
	}
	return votes, nil
}

// Persist inserts vote. The unique index turns a second insert for the same
// key into ErrAlreadyExists.
func (s *PostgresStore) Persist(ctx context.Context, vote models.Vote) error {
	row := ballotModelFromVote(vote)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return s.fail("persist", err, vote.Addr, vote.CategorySlug)
	}
	return nil
}

func (s *PostgresStore) fail(op string, err error, addr, category string) error {
	s.logger.WithFields(log.Fields{
		"event":    "ballot_store_" + op + "_failed",
		"addr":     addr,
		"category": category,
		"error":    err.Error(),
	}).Error("postgres ballot store operation failed")
	return &StoreError{Op: op, Err: err}
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
