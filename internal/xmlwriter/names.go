package xmlwriter

import (
	"errors"
	"regexp"
	"strings"
)

var (
	whitespaceRun   = regexp.MustCompile(`\s+`)
	invalidTagChars = regexp.MustCompile(`[^A-Za-z0-9_.:-]`)
	invalidTagStart = regexp.MustCompile(`^[^A-Za-z_]+`)
)

// Tag name validation errors.
var (
	ErrEmptyTagName    = errors.New("tag name cannot be empty")
	ErrTagNameStart    = errors.New("tag must start with a letter or underscore")
	ErrTagNameChars    = errors.New("tag contains invalid characters (only letters, numbers, _, -, :, . allowed)")
	ErrTagNameReserved = errors.New(`tag names cannot start with "xml" (reserved)`)
)

// SanitizeTagName turns a column header into a usable element name: runs of
// whitespace become "_", other invalid characters are dropped, and leading
// characters that cannot start a name are removed. An empty result is
// "field".
//
// EXAMPLE:
//
//	"Valor Bruto (R$)" -> "Valor_Bruto_R"
//	"2025 Período"     -> "_Perodo"
func SanitizeTagName(name string) string {
	s := whitespaceRun.ReplaceAllString(strings.TrimSpace(name), "_")
	s = invalidTagChars.ReplaceAllString(s, "")
	s = invalidTagStart.ReplaceAllString(s, "")
	if s == "" {
		return "field"
	}
	return s
}

// ValidateTagName reports why name cannot be used as an element name.
func ValidateTagName(name string) error {
	s := strings.TrimSpace(name)
	switch {
	case s == "":
		return ErrEmptyTagName
	case invalidTagStart.MatchString(s):
		return ErrTagNameStart
	case invalidTagChars.MatchString(s):
		return ErrTagNameChars
	case strings.HasPrefix(strings.ToLower(s), "xml"):
		return ErrTagNameReserved
	}
	return nil
}
