// Package source abstracts the external content trees the pipeline ingests
// from: Google Drive folders, local directories, S3 prefixes. A provider
// exposes a paginated, incrementally-filterable listing plus content
// retrieval; everything above this package is provider-agnostic.
package source

import (
	"context"
	"time"
)

// Kind classifies a tree node.
type Kind string

const (
	KindContainer Kind = "container"
	KindDocument  Kind = "document"
	KindMedia     Kind = "media"
	KindOther     Kind = "other"
)

// Item is one node of the source tree.
type Item struct {
	ID         string
	Name       string
	Path       string
	Kind       Kind
	MimeType   string
	ModifiedAt time.Time
	Size       int64
}

// Page is one page of a container listing.
type Page struct {
	Items     []Item
	NextToken string
}

// Filter is the compiled listing predicate for one container. It is built
// once per container and reused across every page of that container's
// listing; the Query field holds the provider-specific compiled form.
type Filter struct {
	ContainerID   string
	ModifiedAfter *time.Time
	Query         string
}

// Provider is a read-only view of an external source tree.
type Provider interface {
	// Origin names the provider for unit metadata ("gdrive", "local", "s3").
	Origin() string

	// CompileFilter builds the listing predicate for a container. A nil
	// modifiedAfter means a full listing.
	CompileFilter(containerID string, modifiedAfter *time.Time) Filter

	// List returns one page of children matching the filter. Pass the
	// previous page's NextToken to continue; an empty NextToken ends the
	// listing.
	List(ctx context.Context, filter Filter, pageToken string) (*Page, error)

	// FetchText retrieves and extracts the text content of a document item.
	FetchText(ctx context.Context, item Item) (string, error)

	// Download copies a media item into dir and returns the local path.
	Download(ctx context.Context, item Item, dir string) (string, error)

	// ContainerName resolves a container's display name.
	ContainerName(ctx context.Context, containerID string) (string, error)
}
