package objectstore

import (
	"fmt"
	"time"
)

// PublicAccess is the anonymous read level of a container.
type PublicAccess string

const (
	// PublicAccessNone allows no anonymous access
	PublicAccessNone PublicAccess = "none"

	// PublicAccessBlob allows anonymous reads of objects but not listing
	PublicAccessBlob PublicAccess = "blob"

	// PublicAccessContainer allows anonymous reads and listing
	PublicAccessContainer PublicAccess = "container"
)

// ParsePublicAccess validates a public access level. Empty means none.
func ParsePublicAccess(s string) (PublicAccess, error) {
	switch PublicAccess(s) {
	case "", PublicAccessNone:
		return PublicAccessNone, nil
	case PublicAccessBlob, PublicAccessContainer:
		return PublicAccess(s), nil
	default:
		return "", NewError(KindValidation, "unknown public access level %q", s)
	}
}

// Container is a logical namespace for objects.
type Container struct {
	Name         string            `json:"name"`
	CreatedAt    time.Time         `json:"created_at"`
	PublicAccess PublicAccess      `json:"public_access"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// ContainerProperties is the read-only view returned by GetProperties.
type ContainerProperties struct {
	PublicAccess PublicAccess `json:"public_access"`
	LastModified time.Time    `json:"last_modified"`
	CreatedAt    time.Time    `json:"created_at"`
}

// ObjectEntry describes a named payload inside a container.
type ObjectEntry struct {
	Container    string    `json:"container"`
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

func (o ObjectEntry) String() string {
	return fmt.Sprintf("%s/%s (%d bytes)", o.Container, o.Name, o.Size)
}

// ListOptions controls a single backend listing page.
type ListOptions struct {
	// Marker is the name after which the page starts; empty starts at the beginning
	Marker string

	// Limit is the maximum number of entries in the page
	Limit int
}

// ObjectPage is one backend listing page. An empty NextMarker ends the listing.
type ObjectPage struct {
	Entries    []ObjectEntry `json:"entries"`
	NextMarker string        `json:"next_marker,omitempty"`
}

// CloneMetadata returns a copy of md; a nil map yields an empty one.
func CloneMetadata(md map[string]string) map[string]string {
	out := make(map[string]string, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}
