// Package store persists batch reports in a relational database through gorm.
package store

import (
	"context"
	"path/filepath"
	"time"

	"github.com/nvr-ai/parking-occupancy/report"
	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// ErrSessionNotFound is returned when a session id does not exist.
var ErrSessionNotFound = errors.New("experiment session not found")

// Config selects the database. An empty Driver disables persistence.
type Config struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// Enabled reports whether a driver is configured.
func (c Config) Enabled() bool {
	return c.Driver != ""
}

// ExperimentSession is one persisted batch run.
type ExperimentSession struct {
	ID                 uint         `gorm:"primaryKey" json:"id"`
	RunID              string       `gorm:"size:64;uniqueIndex" json:"run_id"`
	Name               string       `gorm:"size:64;index" json:"name"`
	ProjectID          string       `gorm:"size:128;index" json:"project_id"`
	LearningRate       float64      `json:"learning_rate"`
	Iterations         int          `json:"iterations"`
	VarThreshold       float64      `json:"var_threshold"`
	OccupancyThreshold float64      `json:"occupancy_threshold"`
	CatalogPath        string       `json:"roi_path"`
	TestPath           string       `json:"test_path"`
	ResultPath         string       `json:"result_path"`
	TotalTests         int          `json:"total_tests"`
	CreatedAt          time.Time    `json:"created_at"`
	Results            []CctvResult `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE" json:"results,omitempty"`
}

// CctvResult is the persisted evaluation of one test image.
type CctvResult struct {
	ID               uint        `gorm:"primaryKey" json:"id"`
	SessionID        uint        `gorm:"index;not null" json:"session_id"`
	CctvID           string      `gorm:"size:64;index;not null" json:"cctv_id"`
	ImageName        string      `json:"image_name"`
	LearningDataSize int         `json:"learning_data_size"`
	CreatedAt        time.Time   `json:"created_at"`
	RoiResults       []RoiResult `gorm:"foreignKey:CctvResultID;constraint:OnDelete:CASCADE" json:"roi_results"`
}

// RoiResult is the persisted verdict for one region.
type RoiResult struct {
	ID           uint    `gorm:"primaryKey" json:"id"`
	CctvResultID uint    `gorm:"index;not null" json:"cctv_result_id"`
	RoiID        int     `json:"roi_id"`
	Rate         float64 `json:"rate"`
	Occupied     bool    `json:"occupied"`
}

// Store reads and writes experiment sessions.
type Store struct {
	db *gorm.DB
}

// Open connects to the database and migrates the schema.
//
// Arguments:
//   - config: Driver ("sqlite", "mysql" or "postgres") and DSN.
//
// Returns:
//   - *Store: The store; Close must be called when done.
//   - error: An error if the driver is unknown or the connection fails.
func Open(config Config) (*Store, error) {
	var dialector gorm.Dialector
	switch config.Driver {
	case DriverSQLite:
		dialector = sqlite.Open(filepath.Clean(config.DSN))
	case DriverMySQL:
		dialector = mysql.Open(config.DSN)
	case DriverPostgres:
		dialector = postgres.Open(config.DSN)
	default:
		return nil, errors.Errorf("unsupported database driver %q", config.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s database", config.Driver)
	}

	if err := db.AutoMigrate(&ExperimentSession{}, &CctvResult{}, &RoiResult{}); err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			sqlDB.Close()
		}
		return nil, errors.Wrap(err, "failed to migrate schema")
	}
	return &Store{db: db}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveReport persists rep, written at resultPath, in a single transaction.
//
// Returns:
//   - *ExperimentSession: The stored session with its generated ids.
//   - error: An error if the transaction fails.
func (s *Store) SaveReport(ctx context.Context, rep *report.BatchReport, resultPath string) (*ExperimentSession, error) {
	session := &ExperimentSession{
		RunID:              rep.RunID,
		Name:               filepath.Base(rep.OutputDir),
		ProjectID:          rep.ProjectID,
		LearningRate:       rep.Parameters.LearningRate,
		Iterations:         rep.Parameters.Iterations,
		VarThreshold:       rep.Parameters.VarThreshold,
		OccupancyThreshold: rep.Parameters.OccupancyThreshold,
		CatalogPath:        rep.CatalogPath,
		TestPath:           rep.TestRoot,
		ResultPath:         resultPath,
		TotalTests:         rep.TotalTests,
		CreatedAt:          rep.CreatedAt,
	}
	for _, r := range rep.Results {
		result := CctvResult{
			CctvID:           r.CameraID,
			ImageName:        r.ImageName,
			LearningDataSize: r.LearningDataSize,
			CreatedAt:        r.Timestamp,
		}
		for _, rec := range r.RoiResults {
			result.RoiResults = append(result.RoiResults, RoiResult{
				RoiID:    rec.RegionID,
				Rate:     rec.Fraction,
				Occupied: rec.Occupied,
			})
		}
		session.Results = append(session.Results, result)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(session).Error
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to save run %s", rep.RunID)
	}
	return session, nil
}

// ListSessions returns the sessions of projectID without results, newest
// first. An empty projectID lists every session.
func (s *Store) ListSessions(ctx context.Context, projectID string) ([]ExperimentSession, error) {
	q := s.db.WithContext(ctx)
	if projectID != "" {
		q = q.Where("project_id = ?", projectID)
	}

	var sessions []ExperimentSession
	if err := q.Order("created_at DESC").Order("id DESC").Find(&sessions).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list sessions")
	}
	return sessions, nil
}

// SessionResults returns the session with its camera and region results.
func (s *Store) SessionResults(ctx context.Context, id uint) (*ExperimentSession, error) {
	var session ExperimentSession
	err := s.db.WithContext(ctx).
		Preload("Results", func(db *gorm.DB) *gorm.DB { return db.Order("cctv_id, image_name") }).
		Preload("Results.RoiResults", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		First(&session, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrapf(ErrSessionNotFound, "id %d", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load session %d", id)
	}
	return &session, nil
}
