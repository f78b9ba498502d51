package acquisition

import (
	"bytes"
	"fmt"
	"mime"
	"strings"
)

// DefaultMaxDocumentBytes is the size ceiling for accepted documents.
const DefaultMaxDocumentBytes = 25 << 20

var (
	pdfMagic = []byte("%PDF")
	zipMagic = []byte("PK\x03\x04")
)

var documentContentTypes = map[string]struct{}{}

func init() {
	for _, mt := range []string{
		"application/pdf",
		"application/x-pdf",
		"application/zip",
		"application/x-zip-compressed",
		"application/octet-stream",
		"application/msword",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"application/vnd.ms-excel",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"application/vnd.oasis.opendocument.text",
		"application/vnd.oasis.opendocument.spreadsheet",
		"application/x-rar-compressed",
		"application/vnd.rar",
		"application/x-7z-compressed",
		"binary/octet-stream",
	} {
		documentContentTypes[mt] = struct{}{}
	}
}

func mediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt, _, _ = strings.Cut(contentType, ";")
	}
	return strings.ToLower(strings.TrimSpace(mt))
}

// IsDocumentContentType reports whether contentType declares a document or binary payload.
func IsDocumentContentType(contentType string) bool {
	_, ok := documentContentTypes[mediaType(contentType)]
	return ok
}

// IsHTMLContentType reports whether contentType declares an HTML page.
func IsHTMLContentType(contentType string) bool {
	mt := mediaType(contentType)
	return mt == "text/html" || mt == "application/xhtml+xml"
}

// HasPDFMagic reports whether body starts with the PDF signature.
func HasPDFMagic(body []byte) bool {
	return bytes.HasPrefix(body, pdfMagic)
}

// HasZipMagic reports whether body starts with the ZIP local-file signature.
func HasZipMagic(body []byte) bool {
	return bytes.HasPrefix(body, zipMagic)
}

// checkDocument decides whether a fetched body is an acceptable document.
// The PDF signature wins over the declared type.
func checkDocument(contentType string, body []byte, maxBytes int) error {
	if len(body) == 0 {
		return fmt.Errorf("%w: empty body", ErrNotDocument)
	}
	if len(body) > maxBytes {
		return fmt.Errorf("%w: %d bytes > %d", ErrTooLarge, len(body), maxBytes)
	}
	if HasPDFMagic(body) || IsDocumentContentType(contentType) {
		return nil
	}
	return fmt.Errorf("%w: content-type %q", ErrNotDocument, contentType)
}

// checkRawDocument validates collaborator payloads, which carry no content
// type, by signature alone.
func checkRawDocument(body []byte, maxBytes int, allowZip bool) error {
	if len(body) == 0 {
		return fmt.Errorf("%w: empty body", ErrNotDocument)
	}
	if len(body) > maxBytes {
		return fmt.Errorf("%w: %d bytes > %d", ErrTooLarge, len(body), maxBytes)
	}
	if HasPDFMagic(body) || (allowZip && HasZipMagic(body)) {
		return nil
	}
	return fmt.Errorf("%w: no document signature", ErrNotDocument)
}

// DetectExtension guesses a file extension for stored document bytes.
func DetectExtension(body []byte) string {
	switch {
	case HasPDFMagic(body):
		return "pdf"
	case HasZipMagic(body):
		return "zip"
	default:
		return "bin"
	}
}
