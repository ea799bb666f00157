package storage

import (
	"context"
	"errors"
	"fmt"

	"cloudloader/pkg/contracts/domain"
)

// Seed inserts keys that are not yet present and returns how many were
// added. Existing keys keep their state.
func Seed(ctx context.Context, store KeyStore, keys []*domain.ActivationKey) (int, error) {
	inserted := 0
	for _, k := range keys {
		err := store.InsertKey(ctx, k)
		switch {
		case err == nil:
			inserted++
		case errors.Is(err, ErrConflict):
		default:
			return inserted, fmt.Errorf("seed key %s: %w", k.Code, err)
		}
	}
	return inserted, nil
}
