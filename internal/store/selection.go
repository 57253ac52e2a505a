package store

import (
	"fmt"
	"strings"
	"time"
)

// ListUnscanned returns hosts that have never been ingested, oldest rows
// first by rowid so bootstrap seeds drain in insertion order.
func (s *Store) ListUnscanned(limit int) ([]string, error) {
	return s.listHosts(`
		SELECT host FROM instances
		WHERE last_ingest_ns IS NULL
		ORDER BY rowid
		LIMIT ?
	`, limit)
}

// ListStale returns successfully scanned hosts whose last ingest is older
// than cutoff, least recently scanned first.
func (s *Store) ListStale(cutoff time.Time, limit int) ([]string, error) {
	return s.listHosts(`
		SELECT host FROM instances
		WHERE last_ingest_status = ? AND last_ingest_ns < ?
		ORDER BY last_ingest_ns
		LIMIT ?
	`, StatusSuccess, cutoff.UnixNano(), limit)
}

// ListUnreachable returns hosts whose last scan failed and is older than
// cutoff, least recently attempted first. A NULL status counts as failed:
// it means a crawl touched the row and never reached a verdict.
func (s *Store) ListUnreachable(cutoff time.Time, limit int) ([]string, error) {
	placeholders := strings.Repeat("?, ", len(UnreadableStatuses)-1) + "?"
	args := make([]any, 0, len(UnreadableStatuses)+2)
	for _, st := range UnreadableStatuses {
		args = append(args, st)
	}
	args = append(args, cutoff.UnixNano(), limit)

	return s.listHosts(fmt.Sprintf(`
		SELECT host FROM instances
		WHERE (last_ingest_status IN (%s) OR last_ingest_status IS NULL)
			AND last_ingest_ns < ?
		ORDER BY last_ingest_ns
		LIMIT ?
	`, placeholders), args...)
}

func (s *Store) listHosts(query string, args ...any) ([]string, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var host string
		if err := rows.Scan(&host); err != nil {
			return nil, err
		}
		out = append(out, host)
	}
	return out, rows.Err()
}
