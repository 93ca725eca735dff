package decode

import (
	"bytes"
	"io"
	"mime"
	"mime/multipart"
	"regexp"
	"strings"
)

// MultipartPart is one decoded section of a multipart/form-data body.
type MultipartPart struct {
	Name        string `json:"name"`
	Filename    string `json:"filename,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Value       string `json:"value,omitempty"`
	Size        int    `json:"size,omitempty"`
	HexPreview  string `json:"hex_preview,omitempty"`
	IsFile      bool   `json:"is_file"`
}

// parseMultipart splits a multipart/form-data body into its named parts,
// extracting the Content-Disposition name/filename for each. File parts get
// a size and hex preview rather than the raw bytes inline.
func parseMultipart(content []byte, contentTypeHeader string) []MultipartPart {
	_, params, err := mime.ParseMediaType(contentTypeHeader)
	if err != nil {
		return nil
	}
	boundary, ok := params["boundary"]
	if !ok {
		return nil
	}

	reader := multipart.NewReader(bytes.NewReader(content), boundary)
	var parts []MultipartPart
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		data, _ := io.ReadAll(part)
		mp := MultipartPart{
			Name:        part.FormName(),
			Filename:    part.FileName(),
			ContentType: part.Header.Get("Content-Type"),
		}
		if mp.Filename != "" {
			mp.IsFile = true
			mp.Size = len(data)
			mp.HexPreview = binaryPreview(data, 64)
		} else {
			mp.Value = string(data)
		}
		parts = append(parts, mp)
	}
	return parts
}

// HTMLInfo is extracted summary metadata for an HTML document (§4.5 step 5).
type HTMLInfo struct {
	Title           string   `json:"title,omitempty"`
	MetaDescription string   `json:"meta_description,omitempty"`
	FormCount       int      `json:"form_count"`
	FormActions     []string `json:"form_actions,omitempty"`
	LinkCount       int      `json:"link_count"`
	HasPasswordField bool    `json:"has_password_field"`
}

var (
	titleRe       = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	metaDescRe    = regexp.MustCompile(`(?is)<meta[^>]+name=["']description["'][^>]+content=["']([^"']*)["']`)
	formTagRe     = regexp.MustCompile(`(?is)<form[^>]*>`)
	formActionRe  = regexp.MustCompile(`(?is)action=["']([^"']*)["']`)
	linkTagRe     = regexp.MustCompile(`(?is)<a\s+[^>]*href=`)
	passwordInput = regexp.MustCompile(`(?is)<input[^>]+type=["']password["']`)
)

// extractHTMLInfo pulls a handful of structural facts out of an HTML
// document without a full parse: title, meta description, form
// count/actions, link count, and whether a password field is present.
func extractHTMLInfo(text string) HTMLInfo {
	info := HTMLInfo{}

	if m := titleRe.FindStringSubmatch(text); m != nil {
		info.Title = strings.TrimSpace(m[1])
	}
	if m := metaDescRe.FindStringSubmatch(text); m != nil {
		info.MetaDescription = strings.TrimSpace(m[1])
	}

	forms := formTagRe.FindAllString(text, -1)
	info.FormCount = len(forms)
	for _, f := range forms {
		if m := formActionRe.FindStringSubmatch(f); m != nil {
			info.FormActions = append(info.FormActions, m[1])
		}
	}

	info.LinkCount = len(linkTagRe.FindAllString(text, -1))
	info.HasPasswordField = passwordInput.MatchString(text)

	return info
}
