// Package extract turns uploaded contract files into plain text. PDF files
// are validated with pdfcpu before the text pass; page text comes from
// dslipak/pdf. Extraction failure is a hard error: a record never enters the
// analysis pipeline without text.
package extract

import (
	"io"
	"os"
	"strings"

	"github.com/dslipak/pdf"
	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/clauselens/clauselens/internal/contract"
)

type Extractor struct{}

func New() *Extractor {
	return &Extractor{}
}

// ExtractText reads the file at path and returns its plain text. An
// unreadable source, or empty text from a non-empty file, fails with an
// extraction_failed error.
func (e *Extractor) ExtractText(path string, kind contract.FileKind) (string, error) {
	switch kind {
	case contract.FileKindPDF:
		return e.extractPDF(path)
	case contract.FileKindText:
		return e.extractPlain(path)
	default:
		return "", contract.NewError(contract.CodeExtractionFailed, "unsupported file kind %q", kind)
	}
}

func (e *Extractor) extractPlain(path string) (string, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return "", contract.NewError(contract.CodeExtractionFailed, "read %s: %v", path, err)
	}
	text := strings.TrimSpace(string(blob))
	if len(blob) > 0 && text == "" {
		return "", contract.NewError(contract.CodeExtractionFailed, "file %s contains no text", path)
	}
	if text == "" {
		return "", contract.NewError(contract.CodeExtractionFailed, "file %s is empty", path)
	}
	return text, nil
}

func (e *Extractor) extractPDF(path string) (string, error) {
	if err := pdfapi.ValidateFile(path, nil); err != nil {
		return "", contract.NewError(contract.CodeExtractionFailed, "invalid pdf %s: %v", path, err)
	}
	pageCount, err := pdfapi.PageCountFile(path)
	if err != nil || pageCount == 0 {
		return "", contract.NewError(contract.CodeExtractionFailed, "pdf %s has no pages", path)
	}

	reader, err := pdf.Open(path)
	if err != nil {
		return "", contract.NewError(contract.CodeExtractionFailed, "open pdf %s: %v", path, err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", contract.NewError(contract.CodeExtractionFailed, "extract pdf text %s: %v", path, err)
	}
	blob, err := io.ReadAll(plain)
	if err != nil {
		return "", contract.NewError(contract.CodeExtractionFailed, "read pdf text %s: %v", path, err)
	}
	text := strings.TrimSpace(string(blob))
	if text == "" {
		return "", contract.NewError(contract.CodeExtractionFailed, "pdf %s yielded no text", path)
	}
	return text, nil
}
