package history

import (
	"context"
	"errors"

	"github.com/QusaiiSaleem/live-vision-analyzer/internal/dispatch"
	"github.com/QusaiiSaleem/live-vision-analyzer/internal/provider"
	"github.com/QusaiiSaleem/live-vision-analyzer/internal/shared"
	"gorm.io/gorm"
)

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Migrate() error {
	return s.db.AutoMigrate(&Analysis{}, &Comparison{})
}

func newAnalysis(sessionID, comparisonID string, op provider.Op, sig *shared.TriggerSignal, res provider.AnalysisResult) *Analysis {
	row := &Analysis{
		ID:               shared.NewID("an_"),
		SessionID:        sessionID,
		ComparisonID:     comparisonID,
		Provider:         res.Provider,
		Op:               string(op),
		Response:         res.Response,
		StructuredData:   JSONAny{V: res.StructuredData},
		ProcessingTimeMs: res.ProcessingTimeMs,
		Confidence:       res.Confidence,
		Error:            res.Error,
	}
	if sig != nil {
		row.PersonCount = sig.PersonCount
		row.CrowdDensity = sig.CrowdDensity
		row.MotionIntensity = sig.MotionIntensity
	}
	return row
}

// SaveResult persists a single-dispatch outcome.
func (s *Store) SaveResult(ctx context.Context, sessionID string, op provider.Op, sig *shared.TriggerSignal, res provider.AnalysisResult) (*Analysis, error) {
	row := newAnalysis(sessionID, "", op, sig, res)
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

// SaveReport persists a comparison wrapper plus one row per tagged result.
func (s *Store) SaveReport(ctx context.Context, sessionID string, op provider.Op, sig *shared.TriggerSignal, report *dispatch.ComparisonReport) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cmp := &Comparison{
			ID:          report.ID,
			SessionID:   sessionID,
			TotalTimeMs: report.TotalTimeMs,
		}
		if err := tx.Create(cmp).Error; err != nil {
			return err
		}

		for _, res := range report.Results {
			if err := tx.Create(newAnalysis(sessionID, report.ID, op, sig, res)).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// Recent returns the newest analyses, optionally filtered by session.
func (s *Store) Recent(ctx context.Context, sessionID string, limit int) ([]*Analysis, error) {
	if limit <= 0 {
		limit = 50
	}
	q := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if sessionID != "" {
		q = q.Where("session_id = ?", sessionID)
	}

	var rows []*Analysis
	err := q.Find(&rows).Error
	return rows, err
}

// GetComparison returns a comparison and its tagged results.
func (s *Store) GetComparison(ctx context.Context, id string) (*Comparison, []*Analysis, error) {
	var cmp Comparison
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&cmp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	var rows []*Analysis
	if err := s.db.WithContext(ctx).Where("comparison_id = ?", id).Find(&rows).Error; err != nil {
		return nil, nil, err
	}
	return &cmp, rows, nil
}
