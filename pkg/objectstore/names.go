package objectstore

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	MinContainerNameLength = 3
	MaxContainerNameLength = 63
	MaxObjectNameLength    = 1024
	MaxMetadataKeyLength   = 128
	MaxMetadataValueLength = 256
)

// ValidateContainerName checks the reference naming rules: 3-63 characters of
// lowercase letters, digits and hyphens, starting and ending with a letter or
// digit, without consecutive hyphens.
func ValidateContainerName(name string) error {
	if len(name) < MinContainerNameLength || len(name) > MaxContainerNameLength {
		return NewError(KindValidation, "container name %q must be %d-%d characters", name, MinContainerNameLength, MaxContainerNameLength)
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '-':
			if i == 0 || i == len(name)-1 {
				return NewError(KindValidation, "container name %q must start and end with a letter or digit", name)
			}
			if name[i-1] == '-' {
				return NewError(KindValidation, "container name %q contains consecutive hyphens", name)
			}
		default:
			return NewError(KindValidation, "container name %q contains invalid character %q", name, c)
		}
	}
	return nil
}

// ValidateObjectName rejects names that cannot be stored portably.
func ValidateObjectName(name string) error {
	if name == "" {
		return NewError(KindValidation, "object name is required")
	}
	if len(name) > MaxObjectNameLength {
		return NewError(KindValidation, "object name exceeds %d bytes", MaxObjectNameLength)
	}
	if !utf8.ValidString(name) {
		return NewError(KindValidation, "object name %q is not valid UTF-8", name)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return NewError(KindValidation, "object name %q contains a control character", name)
		}
	}
	if strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/") {
		return NewError(KindValidation, "object name %q must not start or end with '/'", name)
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return NewError(KindValidation, "object name %q contains an invalid path segment", name)
		}
	}
	return nil
}

// ValidateMetadata checks keys are identifiers and values are short printable
// strings.
func ValidateMetadata(md map[string]string) error {
	for k, v := range md {
		if k == "" || len(k) > MaxMetadataKeyLength {
			return NewError(KindValidation, "metadata key %q must be 1-%d characters", k, MaxMetadataKeyLength)
		}
		for i, r := range k {
			ok := r == '_' || (r < utf8.RuneSelf && unicode.IsLetter(r)) || (i > 0 && r >= '0' && r <= '9')
			if !ok {
				return NewError(KindValidation, "metadata key %q is not a valid identifier", k)
			}
		}
		if len(v) > MaxMetadataValueLength {
			return NewError(KindValidation, "metadata value for %q exceeds %d bytes", k, MaxMetadataValueLength)
		}
		if !utf8.ValidString(v) {
			return NewError(KindValidation, "metadata value for %q is not valid UTF-8", k)
		}
		for _, r := range v {
			if unicode.IsControl(r) {
				return NewError(KindValidation, "metadata value for %q contains a control character", k)
			}
		}
	}
	return nil
}
