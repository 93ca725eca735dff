package store

import (
	"context"
	"time"
)

// SearchResult is a single traffic row matched by a full-text query.
// Highlight wraps each matched term in the best-matching indexed column
// with []-markers, via FTS5's snippet() (§8 scenario 6).
type SearchResult struct {
	HTTPFlow
	Rank      float64
	Highlight string
}

// SearchTraffic runs query against the fts_traffic mirror (url, host,
// request_body, response_body) and returns matching traffic rows ordered
// by relevance, most relevant first (§3 "full-text search").
func (s *Store) SearchTraffic(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.timestamp, t.device_id, t.method, t.url, t.host, t.path,
		       t.status_code, t.request_body, t.response_body, t.duration_ms,
		       t.category, t.sensitivity, t.blocked, t.reason, t.alerts_json,
		       fts_traffic.rank,
		       snippet(fts_traffic, -1, '[', ']', '...', 32)
		FROM fts_traffic
		JOIN traffic AS t ON t.id = fts_traffic.rowid
		WHERE fts_traffic MATCH ?
		ORDER BY fts_traffic.rank
		LIMIT ?`, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var ts string
		if err := rows.Scan(&r.ID, &ts, &r.DeviceID, &r.Method, &r.URL, &r.Host, &r.Path,
			&r.StatusCode, &r.RequestBody, &r.ResponseBody, &r.DurationMS,
			&r.Category, &r.Sensitivity, &r.Blocked, &r.Reason, &r.AlertsJSON, &r.Rank,
			&r.Highlight); err != nil {
			return nil, err
		}
		r.Timestamp, _ = time.Parse(time.RFC3339, ts)
		results = append(results, r)
	}
	return results, rows.Err()
}
