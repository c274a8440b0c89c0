// Package businessflow contains the admin use cases of the messenger automation backend:
// schedule activation, the knowledge group cascade, mining status and customer sync.
package businessflow

import (
	"context"
	"fmt"

	"github.com/ReZill392/Thesit-sub000/models"
	"github.com/ReZill392/Thesit-sub000/repository"
)

const RequestIDKey = "X-Request-ID"

// getPage resolves the external page id, mapping a missing row to ErrPageNotFound
func getPage(ctx context.Context, pageRepo repository.PageRepository, pageID string) (*models.Page, error) {
	page, err := pageRepo.ByPageID(ctx, pageID)
	if err != nil {
		return nil, fmt.Errorf("failed to load page %s: %w", pageID, err)
	}
	if page == nil {
		return nil, ErrPageNotFound
	}
	return page, nil
}
