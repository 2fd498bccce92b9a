// Package guard enforces hard input limits at the engine boundary: size
// caps, NUL rejection for hash-bound fields, and a curated poisoning
// blocklist. Rejections surface as ErrInvalidInput before anything touches
// the database.
package guard

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/borjamoskv/cortex/internal/types"
)

// ErrInvalidInput marks a caller contract violation. Never retried.
var ErrInvalidInput = errors.New("invalid input")

// Limits are the boundary caps. Zero values fall back to defaults.
type Limits struct {
	MaxContentLength int
	MaxQueryLength   int
	MaxTags          int
	MaxProjectLength int
	MaxTagLength     int
}

// DefaultLimits mirrors the recognized environment defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxContentLength: 50000,
		MaxQueryLength:   2000,
		MaxTags:          50,
		MaxProjectLength: 256,
		MaxTagLength:     128,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxContentLength <= 0 {
		l.MaxContentLength = d.MaxContentLength
	}
	if l.MaxQueryLength <= 0 {
		l.MaxQueryLength = d.MaxQueryLength
	}
	if l.MaxTags <= 0 {
		l.MaxTags = d.MaxTags
	}
	if l.MaxProjectLength <= 0 {
		l.MaxProjectLength = d.MaxProjectLength
	}
	if l.MaxTagLength <= 0 {
		l.MaxTagLength = d.MaxTagLength
	}
	return l
}

// poisonPatterns catch common data poisoning attempts: SQL control
// fragments, prompt-override phrases, and engine-internal sentinels.
var poisonPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i);\s*DROP\s+TABLE`),
	regexp.MustCompile(`(?i);\s*DELETE\s+FROM`),
	regexp.MustCompile(`(?i)UNION\s+SELECT\s+`),
	regexp.MustCompile(`(?i)<\s*system\s*>`),
	regexp.MustCompile(`(?i)ignore\s+(?:all\s+)?previous\s+instructions`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+(?:a|an|DAN)\b`),
	regexp.MustCompile(`(?i)__cortex_override__`),
	regexp.MustCompile(`(?i)GENESIS`),
}

// DetectPoisoning reports whether content matches a known poisoning
// pattern.
func DetectPoisoning(content string) bool {
	for _, p := range poisonPatterns {
		if p.MatchString(content) {
			return true
		}
	}
	return false
}

// ValidateStore checks every store() input against the hard limits.
func ValidateStore(l Limits, project, content string, factType types.FactType, tags []string) error {
	l = l.withDefaults()

	if strings.TrimSpace(project) == "" {
		return fmt.Errorf("%w: project cannot be empty", ErrInvalidInput)
	}
	if len(project) > l.MaxProjectLength {
		return fmt.Errorf("%w: project name too long (%d > %d)", ErrInvalidInput, len(project), l.MaxProjectLength)
	}
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: content cannot be empty", ErrInvalidInput)
	}
	if len(content) > l.MaxContentLength {
		return fmt.Errorf("%w: content exceeds max length (%d > %d)", ErrInvalidInput, len(content), l.MaxContentLength)
	}
	if !types.ValidFactTypes[factType] {
		return fmt.Errorf("%w: invalid fact_type %q", ErrInvalidInput, factType)
	}
	if len(tags) > l.MaxTags {
		return fmt.Errorf("%w: too many tags (%d > %d)", ErrInvalidInput, len(tags), l.MaxTags)
	}
	for _, tag := range tags {
		if tag == "" || len(tag) > l.MaxTagLength {
			return fmt.Errorf("%w: invalid tag %q", ErrInvalidInput, tag)
		}
		if strings.ContainsRune(tag, 0) {
			return fmt.Errorf("%w: tag contains NUL byte", ErrInvalidInput)
		}
	}
	// Fields that feed the transaction hash must be NUL-free: the v2 hash
	// uses \x00 as its field separator.
	if err := RejectNUL("project", project); err != nil {
		return err
	}
	if err := RejectNUL("content", content); err != nil {
		return err
	}
	if DetectPoisoning(content) {
		return fmt.Errorf("%w: content rejected: suspicious pattern detected (possible data poisoning)", ErrInvalidInput)
	}
	return nil
}

// ValidateQuery checks search() inputs.
func ValidateQuery(l Limits, query string) error {
	l = l.withDefaults()
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("%w: search query cannot be empty", ErrInvalidInput)
	}
	if len(query) > l.MaxQueryLength {
		return fmt.Errorf("%w: query exceeds max length (%d > %d)", ErrInvalidInput, len(query), l.MaxQueryLength)
	}
	return RejectNUL("query", query)
}

// RejectNUL fails if the value contains a \x00 byte.
func RejectNUL(field, value string) error {
	if strings.ContainsRune(value, 0) {
		return fmt.Errorf("%w: %s contains NUL byte", ErrInvalidInput, field)
	}
	return nil
}
