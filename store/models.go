package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Device is a discovered host (§3 Device entity). UUID is the externally
// visible identity (exported in events/CSV); ID is the internal row key
// used for foreign keys from dns_queries/traffic. MAC remains the
// dedup key across sightings.
type Device struct {
	ID        int64
	UUID      string
	MAC       string
	IP        string
	Hostname  string
	Vendor    string
	FirstSeen time.Time
	LastSeen  time.Time
}

// DNSQuery is a single resolved or blocked DNS lookup (§3 DNSQuery entity).
// ResponseIPs is comma-joined since a query can resolve to more than one
// address; TTL is the matched response's lowest record TTL in seconds.
type DNSQuery struct {
	ID          int64
	Timestamp   time.Time
	DeviceID    *int64
	QueryName   string
	Type        string
	ResponseIPs string
	TTL         uint32
	Blocked     bool
	Reason      string
	Category    string
}

// HTTPFlow is a single decoded HTTP(S) request/response pair (§3 HTTPFlow
// entity). Request and response fields share one row; the proxy writes the
// row once, with both halves filled in, after the exchange completes.
type HTTPFlow struct {
	ID           int64
	Timestamp    time.Time
	DeviceID     *int64
	Method       string
	URL          string
	Host         string
	Path         string
	StatusCode   int
	RequestBody  string
	ResponseBody string
	DurationMS   int64
	Category     string
	Sensitivity  string
	Blocked      bool
	Reason       string
	AlertsJSON   string
}

// GetOrCreateDevice looks up a device by MAC, creating it if absent and
// otherwise refreshing its last-seen/ip/hostname fields. Generalizes the
// reference GetOrCreate[T] pattern (db/db.go) to this schema's row shape.
func (s *Store) GetOrCreateDevice(ctx context.Context, mac, ip, hostname, vendor string) (Device, error) {
	now := time.Now().UTC()

	var d Device
	var firstSeen, lastSeen string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, uuid, mac, ip, hostname, vendor, first_seen, last_seen FROM devices WHERE mac = ?`, mac,
	).Scan(&d.ID, &d.UUID, &d.MAC, &d.IP, &d.Hostname, &d.Vendor, &firstSeen, &lastSeen)

	switch {
	case err == nil:
		d.FirstSeen, _ = time.Parse(time.RFC3339, firstSeen)
		d.LastSeen, _ = time.Parse(time.RFC3339, lastSeen)
		if ip != "" && ip != d.IP {
			d.IP = ip
		}
		if hostname != "" {
			d.Hostname = hostname
		}
		d.LastSeen = now
		_, uerr := s.db.ExecContext(ctx,
			`UPDATE devices SET ip=?, hostname=?, last_seen=? WHERE id=?`,
			d.IP, d.Hostname, now.Format(time.RFC3339), d.ID)
		return d, uerr

	case errors.Is(err, sql.ErrNoRows):
		newUUID := uuid.NewString()
		res, ierr := s.db.ExecContext(ctx,
			`INSERT INTO devices (uuid, mac, ip, hostname, vendor, first_seen, last_seen) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			newUUID, mac, ip, hostname, vendor, now.Format(time.RFC3339), now.Format(time.RFC3339))
		if ierr != nil {
			return Device{}, ierr
		}
		id, _ := res.LastInsertId()
		return Device{ID: id, UUID: newUUID, MAC: mac, IP: ip, Hostname: hostname, Vendor: vendor, FirstSeen: now, LastSeen: now}, nil

	default:
		return Device{}, err
	}
}

// InsertDNSQuery records a query at observation time, before its response
// (if any) has arrived. Returns the row id so a later matched response can
// be merged in via UpdateDNSQueryResponse.
func (s *Store) InsertDNSQuery(ctx context.Context, q DNSQuery) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO dns_queries (timestamp, device_id, query_name, type, response_ips, ttl, blocked, reason, category)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.Timestamp.UTC().Format(time.RFC3339), q.DeviceID, q.QueryName, q.Type, q.ResponseIPs, q.TTL, q.Blocked, q.Reason, q.Category)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// UpdateDNSQueryResponse merges a matched response's addresses and TTL
// into the query row created by InsertDNSQuery, linking the two by
// transaction id and 5-tuple as §4.2 describes.
func (s *Store) UpdateDNSQueryResponse(ctx context.Context, id int64, responseIPs string, ttl uint32) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE dns_queries SET response_ips=?, ttl=? WHERE id=?`,
		responseIPs, ttl, id)
	return err
}

// InsertHTTPFlow records a new flow and returns its row id. The proxy calls
// it once per exchange, after the response is known; UpdateHTTPFlowResponse
// can fill in the response half of a row inserted earlier.
func (s *Store) InsertHTTPFlow(ctx context.Context, f HTTPFlow) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO traffic (timestamp, device_id, method, url, host, path, status_code,
		                       request_body, response_body, duration_ms, category, sensitivity,
		                       blocked, reason, alerts_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.Timestamp.UTC().Format(time.RFC3339), f.DeviceID, f.Method, f.URL, f.Host, f.Path, f.StatusCode,
		f.RequestBody, f.ResponseBody, f.DurationMS, f.Category, f.Sensitivity, f.Blocked, f.Reason, f.AlertsJSON)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// UpdateHTTPFlowResponse fills in the response half of a flow row created
// by InsertHTTPFlow, matching the "request before response" ordering
// guarantee (§5) without requiring two separate tables.
func (s *Store) UpdateHTTPFlowResponse(ctx context.Context, id int64, statusCode int, responseBody string, durationMS int64, sensitivity, alertsJSON string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE traffic SET status_code=?, response_body=?, duration_ms=?, sensitivity=?, alerts_json=? WHERE id=?`,
		statusCode, responseBody, durationMS, sensitivity, alertsJSON, id)
	return err
}
