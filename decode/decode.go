// Package decode turns raw HTTP bodies into inspectable content: it
// undoes compression, classifies the MIME type, decides text vs. binary,
// and parses structured bodies (JSON, form, multipart, HTML), per §4.5.
package decode

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"

	"github.com/andybalholm/brotli"
	"golang.org/x/text/encoding/htmlindex"
)

// ContentType is the decoder's classification of a body.
type ContentType string

const (
	TypeJSON           ContentType = "application/json"
	TypeHTML           ContentType = "text/html"
	TypeXML            ContentType = "text/xml"
	TypePlain          ContentType = "text/plain"
	TypeFormURLEncoded ContentType = "application/x-www-form-urlencoded"
	TypeFormMultipart  ContentType = "multipart/form-data"
	TypeJavaScript     ContentType = "application/javascript"
	TypeCSS            ContentType = "text/css"
	TypeImage          ContentType = "image/*"
	TypeVideo          ContentType = "video/*"
	TypeAudio          ContentType = "audio/*"
	TypeBinary         ContentType = "application/octet-stream"
	TypePDF            ContentType = "application/pdf"
	TypeUnknown        ContentType = "unknown"
)

// Decoded is the result of decoding one HTTP body.
type Decoded struct {
	ContentType ContentType
	MIMEType    string
	Charset     string
	RawSize     int
	DecodedSize int
	IsBinary    bool
	IsCompressed bool
	Text        string
	Structured  any
	BinaryPreview string
	Error       string
	Metadata    map[string]any
}

// maxTextSize is the body-size threshold above which content is always
// treated as binary, matching the original's 1MiB default.
const maxTextSize = 1024 * 1024

// binarySignatures maps a magic-byte prefix to its MIME type.
var binarySignatures = []struct {
	sig  []byte
	mime string
}{
	{[]byte("\x89PNG"), "image/png"},
	{[]byte("\xff\xd8\xff"), "image/jpeg"},
	{[]byte("GIF87a"), "image/gif"},
	{[]byte("GIF89a"), "image/gif"},
	{[]byte("%PDF"), "application/pdf"},
	{[]byte("PK\x03\x04"), "application/zip"},
	{[]byte("\x1f\x8b"), "application/gzip"},
	{[]byte("RIFF"), "audio/wav"},
}

// Decode decodes content per the Content-Type/Content-Encoding headers
// (and optional charset override).
func Decode(content []byte, contentType, contentEncoding, charset string) Decoded {
	rawSize := len(content)
	isCompressed := false

	if contentEncoding != "" {
		decompressed, ok, err := decompress(content, contentEncoding)
		if err != nil {
			return Decoded{
				ContentType:  TypeUnknown,
				MIMEType:     orUnknown(contentType),
				Charset:      orUnknown(charset),
				RawSize:      rawSize,
				DecodedSize:  rawSize,
				IsBinary:     true,
				IsCompressed: true,
				Error:        fmt.Sprintf("decompression failed: %v", err),
			}
		}
		content = decompressed
		isCompressed = ok
	}

	decodedSize := len(content)
	detectedType, mimeType := detectContentType(content, contentType)
	isBinary := isBinaryContent(content, detectedType)

	if charset == "" {
		charset = detectCharset(content, contentType)
	}

	if isBinary {
		return Decoded{
			ContentType:   detectedType,
			MIMEType:      mimeType,
			Charset:       charset,
			RawSize:       rawSize,
			DecodedSize:   decodedSize,
			IsBinary:      true,
			IsCompressed:  isCompressed,
			BinaryPreview: binaryPreview(content, 64),
			Metadata:      extractBinaryMetadata(content, detectedType),
		}
	}

	text := decodeText(content, charset)

	var structured any
	switch detectedType {
	case TypeJSON:
		structured = parseJSON(text)
	case TypeFormURLEncoded:
		structured = parseFormURLEncoded(text)
	case TypeFormMultipart:
		structured = parseMultipart(content, contentType)
	case TypeHTML:
		structured = extractHTMLInfo(text)
	}

	return Decoded{
		ContentType:  detectedType,
		MIMEType:     mimeType,
		Charset:      charset,
		RawSize:      rawSize,
		DecodedSize:  decodedSize,
		IsBinary:     false,
		IsCompressed: isCompressed,
		Text:         text,
		Structured:   structured,
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func decompress(content []byte, encoding string) ([]byte, bool, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "gzip":
		r, err := gzip.NewReader(bytes.NewReader(content))
		if err != nil {
			return nil, false, err
		}
		defer r.Close()
		out, err := io.ReadAll(r)
		return out, true, err

	case "deflate":
		r := flate.NewReader(bytes.NewReader(content))
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			// Some deflate streams carry a zlib header; a raw reader fails
			// on those, so this is not itself an error condition worth
			// surfacing beyond the original bytes.
			return content, false, nil
		}
		return out, true, nil

	case "br":
		out, err := io.ReadAll(brotli.NewReader(bytes.NewReader(content)))
		return out, true, err

	case "identity", "none":
		return content, false, nil

	default:
		return content, false, nil
	}
}

func detectContentType(content []byte, header string) (ContentType, string) {
	mimeType := "application/octet-stream"
	if header != "" {
		mimeType = strings.ToLower(strings.TrimSpace(strings.SplitN(header, ";", 2)[0]))
	}

	switch {
	case strings.Contains(mimeType, "json"):
		return TypeJSON, mimeType
	case strings.Contains(mimeType, "html"):
		return TypeHTML, mimeType
	case strings.Contains(mimeType, "xml"):
		return TypeXML, mimeType
	case mimeType == string(TypeFormURLEncoded):
		return TypeFormURLEncoded, mimeType
	case strings.Contains(mimeType, "multipart/form-data"):
		return TypeFormMultipart, mimeType
	case strings.Contains(mimeType, "javascript"):
		return TypeJavaScript, mimeType
	case strings.Contains(mimeType, "css"):
		return TypeCSS, mimeType
	case strings.HasPrefix(mimeType, "image/"):
		return TypeImage, mimeType
	case strings.HasPrefix(mimeType, "video/"):
		return TypeVideo, mimeType
	case strings.HasPrefix(mimeType, "audio/"):
		return TypeAudio, mimeType
	case mimeType == string(TypePDF):
		return TypePDF, mimeType
	case strings.HasPrefix(mimeType, "text/"):
		return TypePlain, mimeType
	}

	for _, sig := range binarySignatures {
		if bytes.HasPrefix(content, sig.sig) {
			return mimeToContentType(sig.mime), sig.mime
		}
	}

	if looksLikeText(firstN(content, 1024)) {
		return TypePlain, "text/plain"
	}
	return TypeBinary, mimeType
}

func mimeToContentType(mime string) ContentType {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return TypeImage
	case strings.HasPrefix(mime, "video/"):
		return TypeVideo
	case strings.HasPrefix(mime, "audio/"):
		return TypeAudio
	case mime == string(TypePDF):
		return TypePDF
	}
	return TypeBinary
}

func isBinaryContent(content []byte, ct ContentType) bool {
	switch ct {
	case TypeImage, TypeVideo, TypeAudio, TypeBinary, TypePDF:
		return true
	}
	if len(content) > maxTextSize {
		return true
	}
	return !looksLikeText(content)
}

func looksLikeText(content []byte) bool {
	if len(content) == 0 {
		return true
	}
	if bytes.Contains(firstN(content, 1024), []byte{0}) {
		return false
	}
	if !isValidUTF8Mostly(content) {
		return false
	}
	printable := 0
	total := 0
	for _, r := range string(content) {
		total++
		if isPrintableOrWhitespace(r) {
			printable++
		}
	}
	if total == 0 {
		return true
	}
	return float64(printable)/float64(total) > 0.85
}

func isValidUTF8Mostly(content []byte) bool {
	return len(strings.ToValidUTF8(string(content), "")) >= int(float64(len(content))*0.9)
}

func isPrintableOrWhitespace(r rune) bool {
	if r == '\n' || r == '\r' || r == '\t' {
		return true
	}
	return r >= 0x20 && r != 0x7f
}

func firstN(b []byte, n int) []byte {
	if len(b) < n {
		return b
	}
	return b[:n]
}

var charsetMetaRe = regexp.MustCompile(`(?i)<meta[^>]+charset=["']?([^"'\s>]+)`)
var contentTypeCharsetRe = regexp.MustCompile(`(?i)charset=([^\s;]+)`)

func detectCharset(content []byte, header string) string {
	if header != "" {
		if m := contentTypeCharsetRe.FindStringSubmatch(header); m != nil {
			return strings.Trim(m[1], `"'`)
		}
	}
	switch {
	case bytes.HasPrefix(content, []byte{0xef, 0xbb, 0xbf}):
		return "utf-8"
	case bytes.HasPrefix(content, []byte{0xff, 0xfe}):
		return "utf-16le"
	case bytes.HasPrefix(content, []byte{0xfe, 0xff}):
		return "utf-16be"
	}

	head := firstN(content, 2048)
	if bytes.Contains(bytes.ToLower(head), []byte("<meta")) {
		if m := charsetMetaRe.FindSubmatch(head); m != nil {
			return string(m[1])
		}
	}
	return "utf-8"
}

func decodeText(content []byte, charset string) string {
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return strings.ToValidUTF8(string(content), "�")
	}
	decoded, err := enc.NewDecoder().Bytes(content)
	if err != nil {
		return strings.ToValidUTF8(string(content), "�")
	}
	return strings.ToValidUTF8(string(decoded), "�")
}

func parseJSON(text string) any {
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil
	}
	return v
}

func parseFormURLEncoded(text string) map[string][]string {
	q, err := url.ParseQuery(text)
	if err != nil {
		return map[string][]string{"raw": {text}}
	}
	return map[string][]string(q)
}

func binaryPreview(content []byte, maxBytes int) string {
	preview := firstN(content, maxBytes)
	var b strings.Builder
	for i, by := range preview {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%02x", by)
	}
	if len(content) > maxBytes {
		fmt.Fprintf(&b, " ... (%d bytes total)", len(content))
	}
	return b.String()
}

func extractBinaryMetadata(content []byte, ct ContentType) map[string]any {
	meta := map[string]any{
		"size_bytes": len(content),
		"size_human": humanSize(len(content)),
	}
	if ct == TypeImage {
		for k, v := range extractImageInfo(content) {
			meta[k] = v
		}
	}
	return meta
}

func extractImageInfo(content []byte) map[string]any {
	info := map[string]any{}
	switch {
	case bytes.HasPrefix(content, []byte("\x89PNG")):
		info["format"] = "PNG"
		if len(content) > 24 {
			width := be32(content[16:20])
			height := be32(content[20:24])
			info["dimensions"] = fmt.Sprintf("%dx%d", width, height)
		}
	case bytes.HasPrefix(content, []byte("\xff\xd8\xff")):
		info["format"] = "JPEG"
		if w, h, ok := jpegDimensions(content); ok {
			info["dimensions"] = fmt.Sprintf("%dx%d", w, h)
		}
	case bytes.HasPrefix(content, []byte("GIF")):
		info["format"] = "GIF"
		if len(content) > 10 {
			width := le16(content[6:8])
			height := le16(content[8:10])
			info["dimensions"] = fmt.Sprintf("%dx%d", width, height)
		}
	}
	return info
}

func jpegDimensions(content []byte) (width, height int, ok bool) {
	i := 2
	for i < len(content)-9 {
		if content[i] != 0xff {
			i++
			continue
		}
		marker := content[i+1]
		if marker >= 0xc0 && marker <= 0xc2 {
			height = be16(content[i+5 : i+7])
			width = be16(content[i+7 : i+9])
			return width, height, true
		}
		length := be16(content[i+2 : i+4])
		i += 2 + length
	}
	return 0, 0, false
}

func be16(b []byte) int { return int(b[0])<<8 | int(b[1]) }
func be32(b []byte) int {
	return int(b[0])<<24 | int(b[1])<<16 | int(b[2])<<8 | int(b[3])
}
func le16(b []byte) int { return int(b[0]) | int(b[1])<<8 }

func humanSize(size int) string {
	f := float64(size)
	for _, unit := range []string{"B", "KB", "MB", "GB"} {
		if f < 1024 {
			return fmt.Sprintf("%.1f %s", f, unit)
		}
		f /= 1024
	}
	return fmt.Sprintf("%.1f TB", f)
}
