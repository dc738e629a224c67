package store

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/plugin/dbresolver"
	"preorder_hub/constants"
	"preorder_hub/model"
)

func (s *Store) InsertUser(ctx context.Context, user *model.User) error {
	err := s.db.WithContext(ctx).Create(user).Error
	return translateError(err, constants.EMAIL_EXISTS)
}

func (s *Store) FindUserByID(ctx context.Context, id string) (*model.User, error) {
	return s.findUser(s.db.WithContext(ctx).Where("id = ?", id))
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.findUser(s.db.WithContext(ctx).Where("email = ?", email))
}

func (s *Store) findUser(query *gorm.DB) (*model.User, error) {
	user := model.User{}
	if err := query.First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// UpdateUserLeaks adds delta (negative to spend) to the user's leak balance in one
// conditional statement, so concurrent decrements can never take it below zero.
func (s *Store) UpdateUserLeaks(ctx context.Context, userID string, delta int) (*model.User, error) {
	db := s.db.WithContext(ctx)
	result := db.Model(&model.User{}).
		Where("id = ? AND leaks + ? >= 0", userID, delta).
		Update("leaks", gorm.Expr("leaks + ?", delta))
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := s.FindUserByID(ctx, userID); err != nil {
			return nil, err
		}
		return nil, ErrInsufficientLeaks
	}
	// read back from the primary, replicas may lag behind the write
	return s.findUser(db.Clauses(dbresolver.Write).Where("id = ?", userID))
}
