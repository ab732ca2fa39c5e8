package objectstore

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateContainerName(t *testing.T) {
	valid := []string{"abc", "wtblob987fcdeb-51a2-43d1-9f12-345678901234", "a1-b2", strings.Repeat("a", 63)}
	for _, name := range valid {
		assert.NoError(t, ValidateContainerName(name), name)
	}

	invalid := []string{"", "t1", "ABC", "-abc", "abc-", "a--b", "a_b", "a.b", strings.Repeat("a", 64), "../x"}
	for _, name := range invalid {
		err := ValidateContainerName(name)
		assert.ErrorIs(t, err, ErrValidation, name)
	}
}

func TestValidateObjectName(t *testing.T) {
	valid := []string{"hello.txt", "a", "docs/2024/report.pdf", "ünïcode.txt", "with space.txt"}
	for _, name := range valid {
		assert.NoError(t, ValidateObjectName(name), name)
	}

	invalid := []string{"", "/abs", "trailing/", "a//b", "./a", "a/../b", "..", "bad\x00name", "tab\tname", "\xff\xfe", strings.Repeat("a", 1025)}
	for _, name := range invalid {
		assert.ErrorIs(t, ValidateObjectName(name), ErrValidation, name)
	}
}

func TestValidateMetadata(t *testing.T) {
	assert.NoError(t, ValidateMetadata(nil))
	assert.NoError(t, ValidateMetadata(map[string]string{"docType": "textDocuments", "category": "guidance", "_x1": ""}))

	invalid := []map[string]string{
		{"": "v"},
		{"1abc": "v"},
		{"has-dash": "v"},
		{"has space": "v"},
		{strings.Repeat("k", 129): "v"},
		{"key": strings.Repeat("v", 257)},
		{"key": "line\nbreak"},
	}
	for _, md := range invalid {
		assert.ErrorIs(t, ValidateMetadata(md), ErrValidation, "%v", md)
	}
}
