package services

import (
	"errors"
	"fmt"

	"quest-reward-system/geo"
	"quest-reward-system/models"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/gorm"
)

// QuestService manages the quest catalog. Quests are immutable once a
// completion references them in the sense that matters: reward amounts are
// snapshotted onto completions at verification time, so catalog edits are safe.
type QuestService struct {
	DB *gorm.DB
}

// NewQuestService creates the catalog service.
func NewQuestService(db *gorm.DB) *QuestService {
	return &QuestService{DB: db}
}

// QuestInput is the admin create/update payload.
type QuestInput struct {
	Title                    string  `json:"title"`
	Description              string  `json:"description"`
	Latitude                 float64 `json:"latitude"`
	Longitude                float64 `json:"longitude"`
	VerificationRadiusMeters float64 `json:"verification_radius_meters"`
	RewardXP                 int64   `json:"reward_xp"`
	RewardTokens             int64   `json:"reward_tokens"`
	BadgeTokenURI            string  `json:"badge_token_uri"`
}

func (in QuestInput) validate() error {
	if in.Title == "" {
		return errors.New("quests: title required")
	}
	if err := geo.Validate(geo.Point{Latitude: in.Latitude, Longitude: in.Longitude}); err != nil {
		return err
	}
	if in.VerificationRadiusMeters <= 0 {
		return errors.New("quests: verification radius must be positive")
	}
	if in.RewardXP < 0 || in.RewardTokens < 0 {
		return errors.New("quests: reward amounts cannot be negative")
	}
	return nil
}

// uniqueSlug derives a URL slug from the title, suffixing on collision.
func (s *QuestService) uniqueSlug(title, excludeID string) (string, error) {
	base := slug.Make(title)
	candidate := base
	for i := 2; ; i++ {
		var count int64
		q := s.DB.Model(&models.Quest{}).Where("slug = ?", candidate)
		if excludeID != "" {
			q = q.Where("id <> ?", excludeID)
		}
		if err := q.Count(&count).Error; err != nil {
			return "", err
		}
		if count == 0 {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
}

// Create adds a draft quest.
func (s *QuestService) Create(in QuestInput) (*models.Quest, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	sl, err := s.uniqueSlug(in.Title, "")
	if err != nil {
		return nil, err
	}
	quest := models.Quest{
		ID:                       uuid.NewString(),
		Slug:                     sl,
		Title:                    in.Title,
		Description:              in.Description,
		Latitude:                 in.Latitude,
		Longitude:                in.Longitude,
		VerificationRadiusMeters: in.VerificationRadiusMeters,
		RewardXP:                 in.RewardXP,
		RewardTokens:             in.RewardTokens,
		BadgeTokenURI:            in.BadgeTokenURI,
		Status:                   models.QuestStatusDraft,
	}
	if err := s.DB.Create(&quest).Error; err != nil {
		return nil, err
	}
	return &quest, nil
}

// Update edits a quest. Already-earned rewards are untouched by design.
func (s *QuestService) Update(id string, in QuestInput) (*models.Quest, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	var quest models.Quest
	if err := s.DB.First(&quest, "id = ?", id).Error; err != nil {
		return nil, err
	}
	if quest.Title != in.Title {
		sl, err := s.uniqueSlug(in.Title, id)
		if err != nil {
			return nil, err
		}
		quest.Slug = sl
	}
	quest.Title = in.Title
	quest.Description = in.Description
	quest.Latitude = in.Latitude
	quest.Longitude = in.Longitude
	quest.VerificationRadiusMeters = in.VerificationRadiusMeters
	quest.RewardXP = in.RewardXP
	quest.RewardTokens = in.RewardTokens
	quest.BadgeTokenURI = in.BadgeTokenURI
	if err := s.DB.Save(&quest).Error; err != nil {
		return nil, err
	}
	return &quest, nil
}

// SetStatus moves a quest between draft, published and archived.
func (s *QuestService) SetStatus(id string, status models.QuestStatus) (*models.Quest, error) {
	switch status {
	case models.QuestStatusDraft, models.QuestStatusPublished, models.QuestStatusArchived:
	default:
		return nil, fmt.Errorf("quests: unknown status %q", status)
	}
	var quest models.Quest
	if err := s.DB.First(&quest, "id = ?", id).Error; err != nil {
		return nil, err
	}
	quest.Status = status
	if err := s.DB.Save(&quest).Error; err != nil {
		return nil, err
	}
	return &quest, nil
}

// Get fetches a quest by id.
func (s *QuestService) Get(id string) (*models.Quest, error) {
	var quest models.Quest
	if err := s.DB.First(&quest, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &quest, nil
}

// GetBySlug fetches a quest by its slug.
func (s *QuestService) GetBySlug(sl string) (*models.Quest, error) {
	var quest models.Quest
	if err := s.DB.First(&quest, "slug = ?", sl).Error; err != nil {
		return nil, err
	}
	return &quest, nil
}

// QuestWithDistance annotates a catalog listing with distance from the caller.
type QuestWithDistance struct {
	models.Quest
	DistanceMeters *float64 `json:"distance_meters,omitempty"`
}

// ListPublished returns the live catalog, annotated with distance when the
// caller supplied their position.
func (s *QuestService) ListPublished(near *geo.Point) ([]QuestWithDistance, error) {
	var quests []models.Quest
	if err := s.DB.Where("status = ?", models.QuestStatusPublished).
		Order("created_at DESC").
		Find(&quests).Error; err != nil {
		return nil, err
	}
	out := make([]QuestWithDistance, len(quests))
	for i, q := range quests {
		out[i] = QuestWithDistance{Quest: q}
		if near != nil {
			if d, err := geo.Distance(*near, geo.Point{Latitude: q.Latitude, Longitude: q.Longitude}); err == nil {
				dist := d
				out[i].DistanceMeters = &dist
			}
		}
	}
	return out, nil
}
