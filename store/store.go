package store

import (
	"time"

	"github.com/emotiongo"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Run is one invocation of an image, camera or video analysis.
type Run struct {
	ID         string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	Mode       string     `gorm:"type:varchar(16);index" json:"mode"`
	Source     string     `gorm:"type:varchar(1024)" json:"source"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Observation is a face labeled at some point of a Run.
type Observation struct {
	ID          uint64 `gorm:"primaryKey"`
	RunID       string `gorm:"type:varchar(36);index"`
	Run         Run    `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	Frame       int
	Seconds     float64
	Face        int
	X           int
	Y           int
	W           int
	H           int
	Emotion     string `gorm:"type:varchar(16);index"`
	Probability float32
}

type Store struct {
	db *gorm.DB
}

// Open connects to MySQL when mysqlDSN is set and to the SQLite file otherwise.
func Open(mysqlDSN, sqliteFile string) (*Store, error) {
	var dialector gorm.Dialector
	switch {
	case mysqlDSN != "":
		dialector = mysql.Open(mysqlDSN)
	case sqliteFile != "":
		dialector = sqlite.Open(sqliteFile)
	default:
		return nil, errors.New("no database configured")
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	if err := db.AutoMigrate(&Run{}, &Observation{}); err != nil {
		return nil, errors.Wrap(err, "auto-migrate")
	}
	return &Store{db: db}, nil
}

func (s *Store) StartRun(mode, source string) (*Run, error) {
	run := &Run{
		ID:        uuid.NewString(),
		Mode:      mode,
		Source:    source,
		StartedAt: time.Now().UTC(),
	}
	if err := s.db.Create(run).Error; err != nil {
		return nil, errors.Wrap(err, "create run")
	}
	log.WithFields(log.Fields{"run": run.ID, "mode": mode}).Info("run started")
	return run, nil
}

func (s *Store) FinishRun(id string) error {
	now := time.Now().UTC()
	res := s.db.Model(&Run{}).Where("id = ?", id).Update("finished_at", &now)
	if res.Error != nil {
		return errors.Wrapf(res.Error, "finish run %s", id)
	}
	if res.RowsAffected == 0 {
		return errors.Errorf("run %s not found", id)
	}
	return nil
}

func (s *Store) AddObservations(runID string, obs []emotiongo.Observation) error {
	if len(obs) == 0 {
		return nil
	}
	rows := make([]Observation, 0, len(obs))
	for _, o := range obs {
		rows = append(rows, Observation{
			RunID:       runID,
			Frame:       o.Frame,
			Seconds:     o.Seconds,
			Face:        o.Face,
			X:           o.Rect.Min.X,
			Y:           o.Rect.Min.Y,
			W:           o.Rect.Dx(),
			H:           o.Rect.Dy(),
			Emotion:     string(o.Prediction.Emotion),
			Probability: o.Prediction.Probability,
		})
	}
	if err := s.db.Omit(clause.Associations).Create(&rows).Error; err != nil {
		return errors.Wrapf(err, "save observations for run %s", runID)
	}
	return nil
}

// Recorder binds the store to one run so it can be handed to a Runner.
func (s *Store) Recorder(runID string) emotiongo.Recorder {
	return &recorder{store: s, runID: runID}
}

type recorder struct {
	store *Store
	runID string
}

func (r *recorder) Record(obs []emotiongo.Observation) error {
	return r.store.AddObservations(r.runID, obs)
}

func (s *Store) Run(id string) (*Run, error) {
	var run Run
	if err := s.db.First(&run, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "load run %s", id)
	}
	return &run, nil
}

var ErrNotFound = errors.New("not found")

// Runs lists the most recent runs first.
func (s *Store) Runs(limit int) ([]Run, error) {
	var runs []Run
	if err := s.db.Order("started_at DESC").Limit(limit).Find(&runs).Error; err != nil {
		return nil, errors.Wrap(err, "list runs")
	}
	return runs, nil
}

// Histogram counts the first face of every frame of a run, matching what
// the video mode prints.
func (s *Store) Histogram(runID string) (*emotiongo.Histogram, error) {
	var labels []string
	err := s.db.Model(&Observation{}).
		Where("run_id = ? AND face = 0", runID).
		Order("frame").
		Pluck("emotion", &labels).Error
	if err != nil {
		return nil, errors.Wrapf(err, "histogram for run %s", runID)
	}
	return emotiongo.HistogramOf(labels), nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return errors.Wrap(err, "database handle")
	}
	return sqlDB.Close()
}
