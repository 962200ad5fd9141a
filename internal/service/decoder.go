package service

import (
	"encoding/base64"
	"strings"

	"alcyxob/artifact-relay/internal/domain"

	"github.com/google/uuid"
)

// MaxCorrelationIDLength bounds the request id accepted from a callback.
const MaxCorrelationIDLength = 128

// ArtifactFields are the structured payload fields that may carry a base64
// artifact, in probe order.
var ArtifactFields = []string{"pdfContent", "pdf", "file", "data"}

// CallbackPayload is a webhook body after transport decoding. Part is the
// named file part of a multipart callback, nil when none was sent. Fields holds
// the scalar form values or the top-level JSON object.
type CallbackPayload struct {
	Part   *domain.FilePart
	Fields map[string]any
}

// IsEmpty reports whether the callback carried nothing at all.
func (p CallbackPayload) IsEmpty() bool {
	return p.Part == nil && len(p.Fields) == 0
}

// String returns the trimmed string value of a field, or "" when it is absent or not a string.
func (p CallbackPayload) String(field string) string {
	v, ok := p.Fields[field].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}

// decodeStrategy is one supported payload shape. The first strategy that
// accepts a payload owns it; its error is final.
type decodeStrategy interface {
	accepts(p CallbackPayload) bool
	decode(p CallbackPayload) (*domain.CallbackArtifact, error)
}

// ArtifactDecoder normalizes callback payloads into a CallbackArtifact.
type ArtifactDecoder struct {
	strategies []decodeStrategy
}

// NewArtifactDecoder returns a decoder trying the binary part shape first and
// the structured text shape second.
func NewArtifactDecoder() *ArtifactDecoder {
	return &ArtifactDecoder{
		strategies: []decodeStrategy{
			binaryPartStrategy{},
			structuredTextStrategy{fields: ArtifactFields},
		},
	}
}

// Decode extracts the artifact bytes, filename and correlation id from p.
// It never returns an artifact with empty content.
func (d *ArtifactDecoder) Decode(p CallbackPayload) (*domain.CallbackArtifact, error) {
	for _, s := range d.strategies {
		if !s.accepts(p) {
			continue
		}
		artifact, err := s.decode(p)
		if err != nil {
			return nil, err
		}
		if len(artifact.Content) == 0 {
			return nil, decodeError("no valid PDF content found")
		}
		artifact.RequestID = NormalizeRequestID(p.String("requestId"))
		return artifact, nil
	}
	return nil, decodeError("no file provided in webhook response")
}

type binaryPartStrategy struct{}

func (binaryPartStrategy) accepts(p CallbackPayload) bool { return p.Part != nil }

func (binaryPartStrategy) decode(p CallbackPayload) (*domain.CallbackArtifact, error) {
	if len(p.Part.Content) == 0 {
		return nil, decodeError("file part %q is empty", p.Part.Filename)
	}
	filename := p.String("filename")
	if filename == "" {
		filename = p.Part.Filename
	}
	if filename == "" {
		filename = generatedFilename()
	}
	return &domain.CallbackArtifact{Content: p.Part.Content, Filename: filename}, nil
}

type structuredTextStrategy struct {
	fields []string
}

func (structuredTextStrategy) accepts(p CallbackPayload) bool { return len(p.Fields) > 0 }

func (s structuredTextStrategy) decode(p CallbackPayload) (*domain.CallbackArtifact, error) {
	for _, field := range s.fields {
		encoded := p.String(field)
		if encoded == "" {
			continue
		}
		content, err := decodeBase64(encoded)
		if err != nil {
			return nil, decodeError("field %q is not valid base64: %v", field, err)
		}
		filename := p.String("filename")
		if filename == "" {
			filename = generatedFilename()
		}
		return &domain.CallbackArtifact{Content: content, Filename: filename}, nil
	}
	return nil, decodeError("no valid PDF content found in payload fields %s", strings.Join(s.fields, ", "))
}

// decodeBase64 decodes standard base64, tolerating a data URL prefix and
// line breaks inserted by the encoder.
func decodeBase64(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, s)
	return base64.StdEncoding.DecodeString(s)
}

func generatedFilename() string {
	return "generated-summary-" + uuid.NewString() + ".pdf"
}

// NormalizeRequestID returns the trimmed id, or nil when it is empty, longer
// than MaxCorrelationIDLength or contains non-printable characters.
func NormalizeRequestID(id string) *string {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > MaxCorrelationIDLength {
		return nil
	}
	for _, r := range id {
		if r < 0x20 || r > 0x7e {
			return nil
		}
	}
	return &id
}
