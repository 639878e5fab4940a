package sink

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/VanDung-dev/HieraChain-Fusion/engine"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// PostgresConfig configures the result database.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SslMode  string
}

// DSN renders the connection string for the pgx driver.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SslMode)
}

// OpenPostgres opens a GORM connection to Postgres.
func OpenPostgres(cfg PostgresConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return db, nil
}

// ResultRecord is one persisted ConsensusResult. Sensor lists are stored as
// comma separated IDs.
type ResultRecord struct {
	ID           uint   `gorm:"primaryKey"`
	RunID        string `gorm:"not null;index:idx_run_ts,priority:1"`
	Timestamp    int64  `gorm:"not null;index:idx_run_ts,priority:2"`
	Estimate     float64
	Status       string `gorm:"not null;type:text"`
	Contributing string
	Flagged      string
	Absent       string
	Spread       float64
	Agree        bool
	Confidence   float64
	CreatedAt    time.Time
}

// TableName fixes the table name.
func (ResultRecord) TableName() string { return "fusion_results" }

func newResultRecord(runID string, r engine.ConsensusResult) *ResultRecord {
	return &ResultRecord{
		RunID:        runID,
		Timestamp:    r.Timestamp,
		Estimate:     r.Estimate,
		Status:       r.Status.String(),
		Contributing: joinIDs(r.Contributing),
		Flagged:      joinIDs(r.Flagged),
		Absent:       joinIDs(r.Absent),
		Spread:       r.Spread,
		Agree:        r.Agree,
		Confidence:   r.Confidence,
	}
}

// Result converts the record back. Dropped, rehabilitated and deviation
// details are not persisted.
func (rec *ResultRecord) Result() (engine.ConsensusResult, error) {
	status, err := engine.ParseResultStatus(rec.Status)
	if err != nil {
		return engine.ConsensusResult{}, err
	}
	contributing, err := splitIDs(rec.Contributing)
	if err != nil {
		return engine.ConsensusResult{}, err
	}
	flagged, err := splitIDs(rec.Flagged)
	if err != nil {
		return engine.ConsensusResult{}, err
	}
	absent, err := splitIDs(rec.Absent)
	if err != nil {
		return engine.ConsensusResult{}, err
	}
	if flagged == nil {
		flagged = []engine.SensorID{}
	}
	return engine.ConsensusResult{
		Timestamp:    rec.Timestamp,
		Estimate:     rec.Estimate,
		Status:       status,
		Contributing: contributing,
		Flagged:      flagged,
		Absent:       absent,
		Spread:       rec.Spread,
		Agree:        rec.Agree,
		Confidence:   rec.Confidence,
	}, nil
}

func joinIDs(ids []engine.SensorID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(int(id))
	}
	return strings.Join(parts, ",")
}

func splitIDs(s string) ([]engine.SensorID, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]engine.SensorID, len(parts))
	for i, p := range parts {
		id, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("bad sensor id %q: %w", p, err)
		}
		out[i] = engine.SensorID(id)
	}
	return out, nil
}

// GormStore persists results of one pipeline run.
type GormStore struct {
	db    *gorm.DB
	runID string
}

// NewGormStore migrates the result table and returns a store writing under runID.
func NewGormStore(db *gorm.DB, runID string) (*GormStore, error) {
	if err := db.AutoMigrate(&ResultRecord{}); err != nil {
		return nil, fmt.Errorf("migrate results: %w", err)
	}
	return &GormStore{db: db, runID: runID}, nil
}

// Name implements ResultSink.
func (s *GormStore) Name() string { return "postgres" }

// Write inserts r.
func (s *GormStore) Write(ctx context.Context, r engine.ConsensusResult) error {
	return s.db.WithContext(ctx).Create(newResultRecord(s.runID, r)).Error
}

// Recent returns the latest limit results of this run, oldest first.
func (s *GormStore) Recent(ctx context.Context, limit int) ([]engine.ConsensusResult, error) {
	var records []ResultRecord
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", s.runID).
		Order("timestamp DESC").Order("id DESC").
		Limit(limit).
		Find(&records).Error; err != nil {
		return nil, err
	}

	out := make([]engine.ConsensusResult, len(records))
	for i := range records {
		r, err := records[i].Result()
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", records[i].ID, err)
		}
		out[len(records)-1-i] = r
	}
	return out, nil
}

// CountByStatus counts this run's results per status.
func (s *GormStore) CountByStatus(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	if err := s.db.WithContext(ctx).Model(&ResultRecord{}).
		Select("status, count(*) as count").
		Where("run_id = ?", s.runID).
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Count
	}
	return out, nil
}

// Close closes the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
