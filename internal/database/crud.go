package database

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

func CreatePrediction(ctx context.Context, db *gorm.DB, prediction *Prediction) error {
	if err := db.WithContext(ctx).Create(prediction).Error; err != nil {
		return fmt.Errorf("error creating prediction record: %w", err)
	}
	return nil
}

// ListPredictions returns all prediction records, newest first.
func ListPredictions(ctx context.Context, db *gorm.DB) ([]Prediction, error) {
	var predictions []Prediction
	if err := db.WithContext(ctx).Order("creation_time DESC").Find(&predictions).Error; err != nil {
		return nil, fmt.Errorf("error listing predictions: %w", err)
	}
	return predictions, nil
}

func CreateUser(ctx context.Context, db *gorm.DB, user *User) error {
	if err := db.WithContext(ctx).Create(user).Error; err != nil {
		return fmt.Errorf("error creating user: %w", err)
	}
	return nil
}

// GetUserByUsername returns gorm.ErrRecordNotFound (wrapped) when no account
// with the given username exists.
func GetUserByUsername(ctx context.Context, db *gorm.DB, username string) (*User, error) {
	var user User
	if err := db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		return nil, fmt.Errorf("error getting user %s: %w", username, err)
	}
	return &user, nil
}
