package storage

import (
	"context"
	"database/sql"

	"github.com/go-faster/errors"
)

// SortingGroup is a Telegram group/channel created to receive files of one
// category, as tracked by the file-type sorting supplement.
type SortingGroup struct {
	GroupID   int64
	Title     string
	CreatedAt int64
}

// CategoryStats accumulates per-category sorting activity.
type CategoryStats struct {
	Category     string
	FilesSorted  int64
	BytesSorted  int64
	LastSortedAt int64
}

// AddCategoryToGroupMapping binds category to groupID, replacing any prior
// mapping for that category.
func (s *Store) AddCategoryToGroupMapping(ctx context.Context, category string, groupID int64) error {
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO category_to_group_mapping (category, group_id)
			VALUES (?, ?)
			ON CONFLICT(category) DO UPDATE SET group_id = excluded.group_id
		`, category, groupID)
		return errors.Wrap(err, "add category to group mapping")
	})
}

// GetGroupIDForCategory returns the destination group bound to category, if
// any.
func (s *Store) GetGroupIDForCategory(ctx context.Context, category string) (int64, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT group_id FROM category_to_group_mapping WHERE category = ?`, category)
	var groupID int64
	if err := row.Scan(&groupID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, errors.Wrap(err, "get group id for category")
	}
	return groupID, true, nil
}

// AddSortingGroup records a newly created destination group.
func (s *Store) AddSortingGroup(ctx context.Context, g SortingGroup) error {
	if g.CreatedAt == 0 {
		g.CreatedAt = nowUnix()
	}
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO sorting_groups (group_id, title, created_at)
			VALUES (?, ?, ?)
			ON CONFLICT(group_id) DO UPDATE SET title = excluded.title
		`, g.GroupID, g.Title, g.CreatedAt)
		return errors.Wrap(err, "add sorting group")
	})
}

// UpdateCategoryStats accumulates filesSorted and bytesSorted into
// category's running totals and records the audit trail entry for fileID.
func (s *Store) UpdateCategoryStats(ctx context.Context, category string, fileID string, groupID int64, filesSorted, bytesSorted int64) error {
	return withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return errors.Wrap(err, "begin update category stats")
		}
		defer tx.Rollback()

		now := nowUnix()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO category_stats (category, files_sorted, bytes_sorted, last_sorted_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(category) DO UPDATE SET
				files_sorted = category_stats.files_sorted + excluded.files_sorted,
				bytes_sorted = category_stats.bytes_sorted + excluded.bytes_sorted,
				last_sorted_at = excluded.last_sorted_at
		`, category, filesSorted, bytesSorted, now); err != nil {
			return errors.Wrap(err, "update category stats")
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sorting_audit_log (file_id, category, group_id, sorted_at)
			VALUES (?, ?, ?, ?)
		`, fileID, category, groupID, now); err != nil {
			return errors.Wrap(err, "insert sorting audit log")
		}

		return errors.Wrap(tx.Commit(), "commit update category stats")
	})
}

// CategoryStatsFor returns the running totals for category, if any activity
// has been recorded.
func (s *Store) CategoryStatsFor(ctx context.Context, category string) (CategoryStats, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT category, files_sorted, bytes_sorted, last_sorted_at FROM category_stats WHERE category = ?`, category)
	var cs CategoryStats
	if err := row.Scan(&cs.Category, &cs.FilesSorted, &cs.BytesSorted, &cs.LastSortedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CategoryStats{}, false, nil
		}
		return CategoryStats{}, false, errors.Wrap(err, "category stats for")
	}
	return cs, true, nil
}
