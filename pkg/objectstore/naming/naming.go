// Package naming generates unique container and object names.
package naming

import (
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/tendant/simple-objectstore/pkg/objectstore"
)

// DownloadSuffix is inserted before the extension of a downloaded copy.
const DownloadSuffix = "DOWNLOADED"

// Generator produces names with a random UUID suffix
type Generator struct {
	newID func() uuid.UUID
}

// New returns a generator backed by random (version 4) UUIDs
func New() *Generator {
	return &Generator{newID: uuid.New}
}

// NewWithSource returns a generator that takes its UUIDs from fn
func NewWithSource(fn func() uuid.UUID) *Generator {
	return &Generator{newID: fn}
}

// ContainerName returns prefix followed by a UUID. The result must satisfy
// the container naming rules, so prefix is lowercased and checked.
func (g *Generator) ContainerName(prefix string) (string, error) {
	name := strings.ToLower(prefix) + g.newID().String()
	if err := objectstore.ValidateContainerName(name); err != nil {
		return "", fmt.Errorf("invalid container prefix %q: %w", prefix, err)
	}
	return name, nil
}

// ObjectName returns prefix + UUID + ext, e.g. "wtfile<uuid>.txt"
func (g *Generator) ObjectName(prefix, ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return sanitize(prefix) + g.newID().String() + ext
}

var defaultGenerator = New()

// ContainerName generates a container name with the default generator
func ContainerName(prefix string) (string, error) {
	return defaultGenerator.ContainerName(prefix)
}

// ObjectName generates an object name with the default generator
func ObjectName(prefix, ext string) string {
	return defaultGenerator.ObjectName(prefix, ext)
}

// DownloadName derives the name of a downloaded copy:
// "wtfile1.txt" becomes "wtfile1DOWNLOADED.txt".
func DownloadName(name string) string {
	dir, file := path.Split(name)
	ext := path.Ext(file)
	base := strings.TrimSuffix(file, ext)
	return dir + base + DownloadSuffix + ext
}

func sanitize(s string) string {
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
		" ", "_",
	)
	return replacer.Replace(s)
}
