// Package extract turns attachment bytes into plain text for the prompt.
//
// Extraction dispatches on the declared MIME type. It never panics and never
// fails the caller: every outcome is a Result, and Result.String renders
// failures as a placeholder string.
package extract

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"golang.org/x/text/encoding/unicode"

	"github.com/dhcgn/receipt-watcher/model"
)

const (
	FormatPDF  = "application/pdf"
	FormatDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	FormatText = "text/plain"
	FormatCSV  = "text/csv"

	ImagePlaceholder = "[This is an image attachment]"
)

var errEmptyFormat = errors.New("declared format is empty")

// Result is the outcome of one extraction.
type Result struct {
	Format string
	Text   string
	// Err is a *model.ExtractionError when the document could not be read.
	Err error
}

// String returns the extracted text, or a placeholder describing the failure.
func (r Result) String() string {
	if r.Err != nil {
		return fmt.Sprintf("[Error extracting text: %v]", errors.Unwrap(r.Err))
	}
	return r.Text
}

// Func is the signature shared by Extract and test doubles.
type Func func(r io.ReaderAt, size int64, format string) Result

// Extract reads size bytes from r and returns their text according to
// format. Parser panics on malformed documents are converted to errors.
func Extract(r io.ReaderAt, size int64, format string) (res Result) {
	format = NormalizeFormat(format)
	res.Format = format

	defer func() {
		if p := recover(); p != nil {
			res.Text = ""
			res.Err = &model.ExtractionError{Format: format, Err: fmt.Errorf("parser panic: %v", p)}
		}
	}()

	var (
		text string
		err  error
	)
	switch {
	case format == "":
		err = errEmptyFormat
	case format == FormatPDF:
		text, err = pdfText(r, size)
	case format == FormatDOCX:
		text, err = docxText(r, size)
	case format == FormatText:
		text, err = plainText(r, size)
	case format == FormatCSV:
		text, err = csvText(r, size)
	case strings.HasPrefix(format, "image/"):
		text = ImagePlaceholder
	default:
		text = fmt.Sprintf("[Attachment of type %s]", format)
	}
	if err != nil {
		return Result{Format: format, Err: &model.ExtractionError{Format: format, Err: err}}
	}
	return Result{Format: format, Text: text}
}

// ExtractBytes is Extract over an in-memory document.
func ExtractBytes(data []byte, format string) Result {
	return Extract(bytes.NewReader(data), int64(len(data)), format)
}

// NormalizeFormat lowercases a content type and strips its parameters.
func NormalizeFormat(format string) string {
	format = strings.TrimSpace(format)
	if format == "" {
		return ""
	}
	if media, _, err := mime.ParseMediaType(format); err == nil {
		return media
	}
	if i := strings.IndexByte(format, ';'); i >= 0 {
		format = format[:i]
	}
	return strings.ToLower(strings.TrimSpace(format))
}

var extensionFormats = map[string]string{
	".pdf":  FormatPDF,
	".docx": FormatDOCX,
	".txt":  FormatText,
	".csv":  FormatCSV,
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".heic": "image/heic",
}

// RefineFormat replaces generic declared formats with the one implied by the
// filename extension. Mail clients often send documents as
// application/octet-stream.
func RefineFormat(declared, filename string) string {
	declared = NormalizeFormat(declared)
	switch declared {
	case "", "application/octet-stream", "binary/octet-stream", "application/x-download":
	default:
		return declared
	}
	if f, ok := extensionFormats[strings.ToLower(filepath.Ext(filename))]; ok {
		return f
	}
	if declared == "" {
		return "application/octet-stream"
	}
	return declared
}

func readAll(r io.ReaderAt, size int64) ([]byte, error) {
	return io.ReadAll(io.NewSectionReader(r, 0, size))
}

// decodeText converts bytes to UTF-8, replacing invalid sequences with
// U+FFFD.
func decodeText(data []byte) (string, error) {
	out, err := unicode.UTF8.NewDecoder().Bytes(data)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func plainText(r io.ReaderAt, size int64) (string, error) {
	data, err := readAll(r, size)
	if err != nil {
		return "", err
	}
	return decodeText(data)
}

func csvText(r io.ReaderAt, size int64) (string, error) {
	data, err := readAll(r, size)
	if err != nil {
		return "", err
	}
	text, err := decodeText(data)
	if err != nil {
		return "", err
	}

	reader := csv.NewReader(strings.NewReader(text))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var sb strings.Builder
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read csv: %w", err)
		}
		sb.WriteString(strings.Join(record, ", "))
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}
