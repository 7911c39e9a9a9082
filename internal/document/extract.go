// Package document turns uploaded course material into plain source text.
package document

import (
	"errors"
	"fmt"
	"mime"
	"os"
	"strings"
	"unicode/utf8"
)

const MinTextLength = 50

const (
	MimeText = "text/plain"
	MimePDF  = "application/pdf"
	MimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimeDOC  = "application/msword"
)

var (
	ErrUnsupportedType = errors.New("unsupported document type")
	ErrEmptyOrTooShort = errors.New("document appears to be empty or too short")
	ErrInvalidEncoding = errors.New("document is not valid UTF-8 text")
)

// Extract reads the file at path and returns its normalised text.
func Extract(path, mimeType string) (string, error) {
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, mimeType)
	}
	switch mediaType {
	case MimeText:
	case MimePDF, MimeDOCX, MimeDOC:
		return "", fmt.Errorf("%w: %s extraction is not available", ErrUnsupportedType, mediaType)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, mediaType)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read document: %w", err)
	}
	return FromText(string(raw))
}

// FromText normalises already-extracted text and enforces the minimum length.
func FromText(s string) (string, error) {
	if !utf8.ValidString(s) {
		return "", ErrInvalidEncoding
	}
	text := Normalize(s)
	if utf8.RuneCountInString(text) < MinTextLength {
		return "", ErrEmptyOrTooShort
	}
	return text, nil
}

// Normalize collapses every whitespace run to a single space and trims the ends.
func Normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
