package store

import (
	"context"

	"gorm.io/gorm/clause"
	"preorder_hub/constants"
	"preorder_hub/model"
)

func (s *Store) InsertPreorder(ctx context.Context, preorder *model.Preorder) error {
	return s.db.WithContext(ctx).Create(preorder).Error
}

func (s *Store) ListPreorders(ctx context.Context) ([]model.Preorder, error) {
	preorders := make([]model.Preorder, 0)
	err := s.db.WithContext(ctx).Order("created_at DESC, id DESC").Find(&preorders).Error
	return preorders, err
}

// LatestPreorder is the newest preorder carrying a release date; it drives the countdown.
func (s *Store) LatestPreorder(ctx context.Context) (*model.Preorder, error) {
	preorder := model.Preorder{}
	err := s.db.WithContext(ctx).
		Where("release_date IS NOT NULL").
		Order("created_at DESC, id DESC").
		First(&preorder).Error
	if err != nil {
		return nil, translateError(err, "")
	}
	return &preorder, nil
}

func (s *Store) FindSubscriber(ctx context.Context, email string) (*model.EmailSubscriber, error) {
	subscriber := model.EmailSubscriber{}
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&subscriber).Error
	if err != nil {
		return nil, translateError(err, constants.EMAIL_EXISTS)
	}
	return &subscriber, nil
}

func (s *Store) InsertSubscriber(ctx context.Context, subscriber *model.EmailSubscriber) error {
	err := s.db.WithContext(ctx).Create(subscriber).Error
	return translateError(err, constants.EMAIL_EXISTS)
}

// SaveSubscriberStatus writes the status columns of an existing subscriber.
func (s *Store) SaveSubscriberStatus(ctx context.Context, subscriber *model.EmailSubscriber) error {
	return s.db.WithContext(ctx).Model(subscriber).
		Select("status", "subscribed_at", "unsubscribed_at").
		Updates(subscriber).Error
}

func (s *Store) ListSubscribers(ctx context.Context, status string) ([]model.EmailSubscriber, error) {
	query := s.db.WithContext(ctx).Order("created_at DESC, id DESC")
	if status != "" {
		query = query.Where("status = ?", status)
	}
	subscribers := make([]model.EmailSubscriber, 0)
	err := query.Find(&subscribers).Error
	return subscribers, err
}

func (s *Store) CountSubscribers(ctx context.Context, status string) (int64, error) {
	query := s.db.WithContext(ctx).Model(&model.EmailSubscriber{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var total int64
	err := query.Count(&total).Error
	return total, err
}

// RecordPaymentEvent claims an event id; a redelivered event fails with ErrDuplicateEvent.
func (s *Store) RecordPaymentEvent(ctx context.Context, event *model.WebhookEvent) error {
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		Create(event)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrDuplicateEvent
	}
	return nil
}
