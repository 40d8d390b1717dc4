package docstore

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
)

var (
	// ErrUnsupportedFormat is returned by Extract for accepted file types
	// whose text cannot be extracted in-process (.docx, .pdf).
	ErrUnsupportedFormat = errors.New("docstore: text extraction not supported for this format")
	ErrInvalidText       = errors.New("docstore: file is not valid UTF-8 text")
	ErrEmptyFile         = errors.New("docstore: file is empty")
	ErrTooLarge          = errors.New("docstore: file too large")
	ErrExtension         = errors.New("docstore: file type not allowed")
)

// Limits bounds what ValidateUpload accepts.
type Limits struct {
	MaxSize    int64
	Extensions []string // lower-case, with leading dot
}

// ValidateUpload checks an upload's name and size before it is read.
func ValidateUpload(filename string, size int64, limits Limits) error {
	if strings.TrimSpace(filename) == "" {
		return fmt.Errorf("%w: filename is required", ErrExtension)
	}
	ext := strings.ToLower(filepath.Ext(filename))
	allowed := false
	for _, e := range limits.Extensions {
		if e == ext {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: %q (allowed: %s)", ErrExtension, ext, strings.Join(limits.Extensions, ", "))
	}
	if size == 0 {
		return ErrEmptyFile
	}
	if limits.MaxSize > 0 && size > limits.MaxSize {
		return fmt.Errorf("%w: %s exceeds the %s limit", ErrTooLarge,
			humanize.IBytes(uint64(size)), humanize.IBytes(uint64(limits.MaxSize)))
	}
	return nil
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Extract returns the plain text of an uploaded file.
func Extract(filename string, data []byte) (string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt", ".md", ".markdown":
		data = bytes.TrimPrefix(data, utf8BOM)
		if !utf8.Valid(data) {
			return "", ErrInvalidText
		}
		return strings.ReplaceAll(string(data), "\r\n", "\n"), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(filename))
	}
}
