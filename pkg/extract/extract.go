package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

// Text returns best-effort extracted text for the declared content type.
// Returns an error for unsupported types or unreadable payloads.
func Text(data []byte, contentType string) (string, error) {
	switch normalizeType(contentType) {
	case "application/pdf":
		return fromPDF(data)
	case "text/html":
		return fromHTML(data)
	case "text/plain", "text/markdown":
		return normalizeText(string(data)), nil
	default:
		return "", fmt.Errorf("unsupported content type %q", contentType)
	}
}

// Supported reports whether a declared content type can be extracted.
func Supported(contentType string) bool {
	switch normalizeType(contentType) {
	case "application/pdf", "text/html", "text/plain", "text/markdown":
		return true
	}
	return false
}

func normalizeType(contentType string) string {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	return contentType
}

func fromPDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	var sb strings.Builder
	totalPages := reader.NumPage()
	for i := 1; i <= totalPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Skip problematic pages instead of failing entirely.
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	out := normalizeText(sb.String())
	if out == "" {
		return "", fmt.Errorf("no text extracted from pdf")
	}
	return out, nil
}

func fromHTML(data []byte) (string, error) {
	tokenizer := html.NewTokenizer(bytes.NewReader(data))
	var sb strings.Builder
	skipDepth := 0
	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			out := normalizeText(sb.String())
			if out == "" {
				return "", fmt.Errorf("no text extracted from html")
			}
			return out, nil
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			if skipTag(string(name)) {
				skipDepth++
			}
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			if skipTag(string(name)) && skipDepth > 0 {
				skipDepth--
			}
		case html.TextToken:
			if skipDepth == 0 {
				sb.Write(tokenizer.Text())
				sb.WriteString(" ")
			}
		}
	}
}

func skipTag(name string) bool {
	switch name {
	case "script", "style", "head", "noscript":
		return true
	}
	return false
}

func normalizeText(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
