package services

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/egolife/directory/validation"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// PasswordResetChannel is the broker channel reset events are published on.
const PasswordResetChannel = "user.password_reset"

const defaultResetTTL = time.Hour

// PasswordResetEvent is the payload handed to the notification collaborator.
// Delivery is entirely the collaborator's concern.
type PasswordResetEvent struct {
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
	Token  string `json:"token"`
}

// RequestPasswordReset issues a signed, expiring reset token for the record
// with the given email and publishes it for the notification collaborator.
func (s *AccountService) RequestPasswordReset(ctx context.Context, email string) error {
	if s.notifier == nil {
		return ErrNotifierDisabled
	}

	user, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		return err
	}

	token, err := issueResetToken(user.ID, []byte(s.reset.Secret), s.resetTTL())
	if err != nil {
		return err
	}

	payload, err := json.Marshal(PasswordResetEvent{
		UserID: user.ID,
		Email:  user.Email,
		Token:  token,
	})
	if err != nil {
		return err
	}

	if _, err := s.notifier.Publish(ctx, PasswordResetChannel, payload, map[string]string{
		"event": PasswordResetChannel,
	}); err != nil {
		return err
	}

	s.log.Info("password reset requested", zap.Int64("user_id", user.ID))
	return nil
}

// CompletePasswordReset verifies a reset token and replaces the record's
// password. The search index is untouched; passwords are not indexed.
func (s *AccountService) CompletePasswordReset(ctx context.Context, token, password, confirmation string) error {
	id, err := parseResetToken(token, []byte(s.reset.Secret))
	if err != nil {
		return ErrBadResetToken
	}

	violations := validation.Violations{}
	for _, rule := range validation.UserRules {
		if rule.Field == "password" {
			rule.Apply(password, confirmation, violations)
		}
	}
	if !violations.Empty() {
		return &ValidationError{Fields: violations}
	}

	user, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	user.PasswordHash = string(hash)

	if _, err := s.store.Update(ctx, id, user); err != nil {
		return err
	}

	s.log.Info("password reset completed", zap.Int64("user_id", id))
	return nil
}

func (s *AccountService) resetTTL() time.Duration {
	if s.reset.TokenTTL > 0 {
		return s.reset.TokenTTL
	}
	return defaultResetTTL
}

func issueResetToken(userID int64, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

func parseResetToken(tokenString string, secret []byte) (int64, error) {
	claims := jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return secret, nil
	})
	if err != nil {
		return 0, err
	}
	if !token.Valid {
		return 0, errors.New("invalid token")
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id < 1 {
		return 0, errors.New("invalid subject")
	}
	return id, nil
}
