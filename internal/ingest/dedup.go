package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/zulandar/socialdesk/internal/db"
	"github.com/zulandar/socialdesk/internal/models"
	"gorm.io/gorm"
)

// DedupIndex answers whether a remote item was already imported. It is
// backed by the unique index on articles.message_id, so the check-and-mark
// step is atomic even across concurrent cycles: the insert itself is the
// mark, and a losing writer gets ErrDuplicateItem.
type DedupIndex struct {
	db *gorm.DB
}

// NewDedupIndex creates a DedupIndex over db.
func NewDedupIndex(db *gorm.DB) *DedupIndex {
	return &DedupIndex{db: db}
}

// HasImported reports whether an article with messageID exists.
func (d *DedupIndex) HasImported(ctx context.Context, platformID string) (bool, error) {
	var count int64
	err := d.db.WithContext(ctx).Model(&models.Article{}).
		Where("message_id = ?", platformID).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("ingest: dedup lookup %s: %w", platformID, err)
	}
	return count > 0, nil
}

// MarkImported inserts article inside tx. A unique violation on its
// MessageID maps to ErrDuplicateItem.
func (d *DedupIndex) MarkImported(tx *gorm.DB, article *models.Article) error {
	if article.MessageID == nil || *article.MessageID == "" {
		return fmt.Errorf("%w: article without message id", ErrInvalidItem)
	}
	if err := tx.Create(article).Error; err != nil {
		if db.IsDuplicateKey(err) {
			return ErrDuplicateItem
		}
		return fmt.Errorf("ingest: create article %s: %w", *article.MessageID, err)
	}
	return nil
}

// isDuplicate reports whether err means the item was already imported.
func isDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicateItem) || db.IsDuplicateKey(err)
}
