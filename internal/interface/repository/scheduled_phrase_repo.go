package repository

import (
	"context"
	"strconv"
	"strings"
	"time"

	"patient-call-service/internal/domain/entity"
	"patient-call-service/internal/domain/repository"

	"gorm.io/gorm"
)

// GormScheduledPhraseRepository implements the ScheduledPhraseRepository interface
type GormScheduledPhraseRepository struct {
	db *gorm.DB
}

// NewGormScheduledPhraseRepository creates a new GORM scheduled phrase repository
func NewGormScheduledPhraseRepository(db *gorm.DB) repository.ScheduledPhraseRepository {
	return &GormScheduledPhraseRepository{
		db: db,
	}
}

// ScheduledPhrases GORM model for database mapping
type ScheduledPhrases struct {
	ID         uint       `gorm:"primaryKey"`
	Text       string     `gorm:"column:text"`
	Active     bool       `gorm:"column:active"`
	DaysOfWeek string     `gorm:"column:days_of_week"` // comma separated, 0 = Sunday
	StartTime  string     `gorm:"column:start_time"`
	EndTime    string     `gorm:"column:end_time"`
	ValidFrom  *time.Time `gorm:"column:valid_from"`
	ValidUntil *time.Time `gorm:"column:valid_until"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TableName overrides the default table name
func (ScheduledPhrases) TableName() string {
	return "scheduled_phrases"
}

// FindAll returns every active phrase; window filtering is left to the caller
func (r *GormScheduledPhraseRepository) FindAll(ctx context.Context) ([]entity.ScheduledPhrase, error) {
	var rows []ScheduledPhrases
	result := r.db.WithContext(ctx).Where("active = ?", true).Order("id").Find(&rows)
	if result.Error != nil {
		return nil, result.Error
	}

	// Convert GORM models to domain entities
	phrases := make([]entity.ScheduledPhrase, 0, len(rows))
	for _, row := range rows {
		phrases = append(phrases, entity.ScheduledPhrase{
			ID:         row.ID,
			Text:       row.Text,
			Active:     row.Active,
			DaysOfWeek: parseWeekdays(row.DaysOfWeek),
			StartTime:  row.StartTime,
			EndTime:    row.EndTime,
			ValidFrom:  row.ValidFrom,
			ValidUntil: row.ValidUntil,
		})
	}
	return phrases, nil
}

func parseWeekdays(s string) []time.Weekday {
	var days []time.Weekday
	for _, part := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 || n > 6 {
			continue
		}
		days = append(days, time.Weekday(n))
	}
	return days
}

// GormPhraseTemplateRepository implements the PhraseTemplateRepository interface
type GormPhraseTemplateRepository struct {
	db *gorm.DB
}

// NewGormPhraseTemplateRepository creates a new GORM phrase template repository
func NewGormPhraseTemplateRepository(db *gorm.DB) repository.PhraseTemplateRepository {
	return &GormPhraseTemplateRepository{
		db: db,
	}
}

// StagePhraseTemplates GORM model for database mapping
type StagePhraseTemplates struct {
	ID        uint   `gorm:"primaryKey"`
	Stage     string `gorm:"column:stage;unique"`
	Template  string `gorm:"column:template"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName overrides the default table name
func (StagePhraseTemplates) TableName() string {
	return "stage_phrase_templates"
}

// GetTemplate finds the template of a stage, empty when none is configured
func (r *GormPhraseTemplateRepository) GetTemplate(ctx context.Context, stage entity.Stage) (string, error) {
	var rows []StagePhraseTemplates
	result := r.db.WithContext(ctx).Where("stage = ?", string(stage)).Limit(1).Find(&rows)
	if result.Error != nil {
		return "", result.Error
	}
	if len(rows) == 0 {
		return "", nil
	}
	return rows[0].Template, nil
}
