package store

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

var deviceExportHeader = []string{"uuid", "mac", "ip", "hostname", "vendor", "first_seen", "last_seen"}

// CSVRow returns d as a CSV row matching deviceExportHeader's column order.
func (d Device) CSVRow() []string {
	return []string{d.UUID, d.MAC, d.IP, d.Hostname, d.Vendor,
		d.FirstSeen.UTC().Format(time.RFC3339), d.LastSeen.UTC().Format(time.RFC3339)}
}

// ListDevices returns every known device, most recently seen first.
func (s *Store) ListDevices(ctx context.Context) ([]Device, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, uuid, mac, ip, hostname, vendor, first_seen, last_seen FROM devices ORDER BY last_seen DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		var d Device
		var firstSeen, lastSeen string
		if err := rows.Scan(&d.ID, &d.UUID, &d.MAC, &d.IP, &d.Hostname, &d.Vendor, &firstSeen, &lastSeen); err != nil {
			return nil, err
		}
		d.FirstSeen, _ = time.Parse(time.RFC3339, firstSeen)
		d.LastSeen, _ = time.Parse(time.RFC3339, lastSeen)
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// ExportDevices writes every known device to dst in the requested format
// (csv, json, jsonl), adapting the reference dump-writer pattern
// (db/dumpsnacs.go's WriteSNACs family) to this schema's Device rows.
func (s *Store) ExportDevices(ctx context.Context, dst io.Writer, format string) (int, error) {
	devices, err := s.ListDevices(ctx)
	if err != nil {
		return 0, fmt.Errorf("store: export devices: %w", err)
	}
	if len(devices) == 0 {
		return 0, nil
	}

	switch strings.ToLower(format) {
	case "csv":
		return len(devices), writeDevicesCSV(devices, dst)
	case "json":
		return len(devices), writeDevicesJSON(devices, dst)
	case "jsonl":
		return len(devices), writeDevicesJSONL(devices, dst)
	default:
		return 0, fmt.Errorf("store: unsupported export format %q; supported: csv, json, jsonl", format)
	}
}

func writeDevicesCSV(devices []Device, dst io.Writer) error {
	w := csv.NewWriter(dst)
	if err := w.Write(deviceExportHeader); err != nil {
		return err
	}
	for _, d := range devices {
		if err := w.Write(d.CSVRow()); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func writeDevicesJSON(devices []Device, dst io.Writer) error {
	out, err := json.Marshal(devices)
	if err != nil {
		return err
	}
	_, err = dst.Write(out)
	return err
}

func writeDevicesJSONL(devices []Device, dst io.Writer) error {
	for _, d := range devices {
		out, err := json.Marshal(d)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(dst, string(out)); err != nil {
			return err
		}
	}
	return nil
}
