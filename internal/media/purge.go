package media

import (
	"context"
	"time"
)

// ReferenceLister supplies photo references older than a cutoff. The
// message store implements it.
type ReferenceLister interface {
	ListPhotoPathsBefore(ctx context.Context, cutoff time.Time) ([]string, error)
}

// PurgeOldPhotos deletes stored images referenced by messages older than the
// retention window. Individual delete failures are logged and skipped so one
// bad object never blocks the sweep. Returns the number of objects removed.
func (s *Store) PurgeOldPhotos(ctx context.Context, refs ReferenceLister, retention time.Duration) (int, error) {
	if !s.Enabled() {
		return 0, ErrNotConfigured
	}
	cutoff := time.Now().Add(-retention)
	paths, err := refs.ListPhotoPathsBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	var removed int
	for _, key := range paths {
		if err := s.DeleteImage(ctx, key); err != nil {
			s.logger.Warn("failed to purge photo", "key", key, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("purged old photos", "removed", removed, "cutoff", cutoff)
	}
	return removed, nil
}
