// Package attachment validates candidate files and stages the accepted ones
// until the next message is submitted.
package attachment

import (
	"mime"
	"strings"

	"filechat/internal/models"
)

const (
	DefaultMaxSizeBytes int64 = 50 << 20 // 52,428,800 bytes
	DefaultMaxCount           = 10
)

const (
	ReasonUnsupportedType = "unsupported type"
	ReasonTooLarge        = "exceeds size limit"
	ReasonTooMany         = "exceeds attachment count limit"
	ReasonSending         = "a message is being sent"
)

var defaultAllowedTypes = []string{
	"image/png",
	"image/jpeg",
	"image/jpg",
	"image/gif",
	"application/pdf",
	"text/plain",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

// Result is the outcome of validating one file.
type Result struct {
	Accepted bool
	Reason   string
}

// Rejection names a file that did not make it into the stage and why.
type Rejection struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// BatchResult splits an add call into accepted files (input order kept) and rejections.
type BatchResult struct {
	Accepted []models.Attachment
	Rejected []Rejection
}

// Validator holds the whitelist and ceilings. The zero value is not usable; use NewValidator.
type Validator struct {
	allowed      map[string]struct{}
	maxSizeBytes int64
	maxCount     int
}

type ValidatorOption func(*Validator)

// WithMaxSizeBytes overrides the per-file size ceiling.
func WithMaxSizeBytes(n int64) ValidatorOption {
	return func(v *Validator) {
		if n > 0 {
			v.maxSizeBytes = n
		}
	}
}

// WithMaxCount overrides the ceiling on staged + incoming files.
func WithMaxCount(n int) ValidatorOption {
	return func(v *Validator) {
		if n > 0 {
			v.maxCount = n
		}
	}
}

// WithAllowedTypes replaces the MIME whitelist.
func WithAllowedTypes(types ...string) ValidatorOption {
	return func(v *Validator) {
		if len(types) == 0 {
			return
		}
		v.allowed = make(map[string]struct{}, len(types))
		for _, t := range types {
			v.allowed[normalizeType(t)] = struct{}{}
		}
	}
}

func NewValidator(opts ...ValidatorOption) *Validator {
	v := &Validator{
		allowed:      make(map[string]struct{}, len(defaultAllowedTypes)),
		maxSizeBytes: DefaultMaxSizeBytes,
		maxCount:     DefaultMaxCount,
	}
	for _, t := range defaultAllowedTypes {
		v.allowed[t] = struct{}{}
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *Validator) MaxSizeBytes() int64 { return v.maxSizeBytes }
func (v *Validator) MaxCount() int       { return v.maxCount }

// Validate checks type first, then size. The first failing rule decides the reason.
func (v *Validator) Validate(file models.Attachment) Result {
	if _, ok := v.allowed[normalizeType(file.MimeType)]; !ok {
		return Result{Reason: ReasonUnsupportedType}
	}
	if file.SizeBytes > v.maxSizeBytes {
		return Result{Reason: ReasonTooLarge}
	}
	return Result{Accepted: true}
}

// ValidateBatch validates files about to join a stage that already holds existing
// entries. If the total would pass the count ceiling the whole batch is rejected.
func (v *Validator) ValidateBatch(existing int, files []models.Attachment) BatchResult {
	var res BatchResult
	if existing+len(files) > v.maxCount {
		res.Rejected = make([]Rejection, 0, len(files))
		for _, f := range files {
			res.Rejected = append(res.Rejected, Rejection{Name: f.Name, Reason: ReasonTooMany})
		}
		return res
	}
	for _, f := range files {
		if r := v.Validate(f); !r.Accepted {
			res.Rejected = append(res.Rejected, Rejection{Name: f.Name, Reason: r.Reason})
			continue
		}
		res.Accepted = append(res.Accepted, f)
	}
	return res
}

// normalizeType drops MIME parameters and lowercases the media type.
func normalizeType(ct string) string {
	ct = strings.TrimSpace(ct)
	if mediaType, _, err := mime.ParseMediaType(ct); err == nil {
		return mediaType
	}
	if idx := strings.IndexByte(ct, ';'); idx >= 0 {
		ct = ct[:idx]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}
