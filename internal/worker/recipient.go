package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lalithlochan/zenpush/internal/db"
)

// TokenStore looks up the push token registered for an owner.
type TokenStore interface {
	GetDeviceToken(ctx context.Context, ownerID string) (string, error)
}

// RecipientResolver maps a reminder owner to a deliverable device token.
type RecipientResolver struct {
	store TokenStore
}

func NewRecipientResolver(store TokenStore) *RecipientResolver {
	return &RecipientResolver{store: store}
}

// Resolve returns ok=false with a nil error when the owner has no usable token.
// A non-nil error means the lookup itself failed.
func (r *RecipientResolver) Resolve(ctx context.Context, ownerID string) (string, bool, error) {
	token, err := r.store.GetDeviceToken(ctx, ownerID)
	if errors.Is(err, db.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("resolve token for %s: %w", ownerID, err)
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return "", false, nil
	}
	return token, true, nil
}
