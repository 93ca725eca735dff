package decode

import (
	"bytes"
	"compress/gzip"
	"testing"
)

func TestDecodeJSON(t *testing.T) {
	body := []byte(`{"user":"alice","active":true}`)
	got := Decode(body, "application/json", "", "")

	if got.ContentType != TypeJSON {
		t.Fatalf("ContentType = %v, want %v", got.ContentType, TypeJSON)
	}
	if got.IsBinary {
		t.Fatal("IsBinary = true, want false for a JSON body")
	}
	m, ok := got.Structured.(map[string]any)
	if !ok {
		t.Fatalf("Structured = %T, want map[string]any", got.Structured)
	}
	if m["user"] != "alice" {
		t.Errorf("Structured[user] = %v, want alice", m["user"])
	}
}

func TestDecodeFormURLEncoded(t *testing.T) {
	body := []byte("username=bob&password=hunter2")
	got := Decode(body, "application/x-www-form-urlencoded", "", "")
	if got.ContentType != TypeFormURLEncoded {
		t.Fatalf("ContentType = %v, want %v", got.ContentType, TypeFormURLEncoded)
	}
	values, ok := got.Structured.(map[string][]string)
	if !ok {
		t.Fatalf("Structured = %T, want map[string][]string", got.Structured)
	}
	if len(values["username"]) != 1 || values["username"][0] != "bob" {
		t.Errorf("Structured[username] = %v, want [bob]", values["username"])
	}
}

func TestDecodePNGDetectedAsBinary(t *testing.T) {
	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 100)...)
	got := Decode(png, "", "", "")
	if !got.IsBinary {
		t.Fatal("IsBinary = false, want true for a PNG magic-byte body")
	}
	if got.MIMEType != "image/png" {
		t.Errorf("MIMEType = %q, want image/png", got.MIMEType)
	}
	if got.BinaryPreview == "" {
		t.Error("BinaryPreview is empty, want a hex dump")
	}
}

func TestDecodeGzipRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	gw.Write([]byte(`{"ok":true}`))
	gw.Close()

	got := Decode(buf.Bytes(), "application/json", "gzip", "")
	if !got.IsCompressed {
		t.Error("IsCompressed = false, want true")
	}
	if got.ContentType != TypeJSON {
		t.Fatalf("ContentType = %v, want %v", got.ContentType, TypeJSON)
	}
}

func TestDecodeLargeBodyTreatedAsBinary(t *testing.T) {
	body := bytes.Repeat([]byte("a"), maxTextSize+1)
	got := Decode(body, "text/plain", "", "")
	if !got.IsBinary {
		t.Error("IsBinary = false, want true for a body exceeding maxTextSize")
	}
}

func TestDecodeHTMLExtractsInfo(t *testing.T) {
	body := []byte(`<html><head><title>Hi</title></head><body><form action="/login"><input type="password"></form></body></html>`)
	got := Decode(body, "text/html", "", "")
	info, ok := got.Structured.(HTMLInfo)
	if !ok {
		t.Fatalf("Structured = %T, want HTMLInfo", got.Structured)
	}
	if info.Title != "Hi" {
		t.Errorf("Title = %q, want Hi", info.Title)
	}
	if !info.HasPasswordField {
		t.Error("HasPasswordField = false, want true")
	}
}
