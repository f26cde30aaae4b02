package storage

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
)

// Months returns {year-month, count} for every month that has at least one
// archived message, in ascending order.
func (s *Store) Months(ctx context.Context, channelID int64) ([]MonthCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT strftime('%Y-%m', date_unix, 'unixepoch') AS ym, COUNT(*)
		FROM messages
		WHERE channel_id = ?
		GROUP BY ym
		ORDER BY ym ASC
	`, channelID)
	if err != nil {
		return nil, errors.Wrap(err, "months")
	}
	defer rows.Close()

	var out []MonthCount
	for rows.Next() {
		var mc MonthCount
		if err := rows.Scan(&mc.YearMonth, &mc.Count); err != nil {
			return nil, errors.Wrap(err, "scan month count")
		}
		out = append(out, mc)
	}
	return out, rows.Err()
}

// Days returns {day, count, page} for every day in year-month that has at
// least one archived message, with page computed as
// ceil(rank / pageSize) over the ascending day order.
func (s *Store) Days(ctx context.Context, channelID int64, yearMonth string, pageSize int) ([]DayCount, error) {
	if pageSize <= 0 {
		pageSize = 1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT strftime('%Y-%m-%d', date_unix, 'unixepoch') AS day, COUNT(*)
		FROM messages
		WHERE channel_id = ? AND strftime('%Y-%m', date_unix, 'unixepoch') = ?
		GROUP BY day
		ORDER BY day ASC
	`, channelID, yearMonth)
	if err != nil {
		return nil, errors.Wrap(err, "days")
	}
	defer rows.Close()

	var out []DayCount
	rank := 0
	for rows.Next() {
		var dc DayCount
		if err := rows.Scan(&dc.Day, &dc.Count); err != nil {
			return nil, errors.Wrap(err, "scan day count")
		}
		rank++
		dc.Page = (rank + pageSize - 1) / pageSize
		out = append(out, dc)
	}
	return out, rows.Err()
}

// VerifyChecksums is a minimal integrity canary: it lists rows in table
// whose checksum column is empty. Stronger integrity verification is
// operator-driven and out of scope here.
func (s *Store) VerifyChecksums(ctx context.Context, table string, idMin, idMax int64) ([]ChecksumIssue, error) {
	idCol := "id"
	switch table {
	case "users", "media":
	case "messages":
		idCol = "id"
	default:
		return nil, errors.New(fmt.Sprintf("verify checksums: unsupported table %q", table))
	}

	query := fmt.Sprintf(`SELECT %s, '' FROM %s WHERE checksum = ''`, idCol, table)
	args := []any{}
	if idMax > 0 {
		query += fmt.Sprintf(` AND %s BETWEEN ? AND ?`, idCol)
		args = append(args, idMin, idMax)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "verify checksums")
	}
	defer rows.Close()

	var out []ChecksumIssue
	for rows.Next() {
		var ci ChecksumIssue
		if err := rows.Scan(&ci.ID, &ci.Issue); err != nil {
			return nil, errors.Wrap(err, "scan checksum issue")
		}
		ci.Issue = "empty checksum"
		out = append(out, ci)
	}
	return out, rows.Err()
}

// IncrAttributionStats increments the attribution counter for
// sourceChannelID, used by the attribution formatter (C6) whenever it
// emits a non-empty header.
func (s *Store) IncrAttributionStats(ctx context.Context, sourceChannelID int64) error {
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO attribution_stats (source_channel_id, attributions)
			VALUES (?, 1)
			ON CONFLICT(source_channel_id) DO UPDATE SET attributions = attribution_stats.attributions + 1
		`, sourceChannelID)
		return errors.Wrap(err, "incr attribution stats")
	})
}
