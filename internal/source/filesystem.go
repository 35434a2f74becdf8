package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

var textExtensions = map[string]bool{
	".txt": true, ".md": true, ".markdown": true, ".rst": true,
}

var mediaExtensions = map[string]bool{
	".mp4": true, ".mov": true, ".mkv": true, ".webm": true,
	".mp3": true, ".wav": true, ".m4a": true, ".ogg": true,
}

// FSProvider reads a local directory tree. Container ids are paths
// relative to the root; the root itself is the empty id.
type FSProvider struct {
	root     string
	pageSize int
}

// NewFSProvider creates a provider rooted at dir.
func NewFSProvider(dir string) *FSProvider {
	return &FSProvider{root: dir, pageSize: 200}
}

func (p *FSProvider) Origin() string { return "local" }

// CompileFilter keeps the modified-after cutoff; the filesystem has no
// server-side query language, so filtering happens while listing.
func (p *FSProvider) CompileFilter(containerID string, modifiedAfter *time.Time) Filter {
	return Filter{ContainerID: containerID, ModifiedAfter: modifiedAfter}
}

func (p *FSProvider) List(ctx context.Context, filter Filter, pageToken string) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir := filepath.Join(p.root, filepath.FromSlash(filter.ContainerID))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var items []Item
	for _, e := range entries {
		rel := pathJoin(filter.ContainerID, e.Name())
		info, ierr := e.Info()
		if ierr != nil {
			continue
		}

		item := Item{
			ID:         rel,
			Name:       e.Name(),
			Path:       rel,
			ModifiedAt: info.ModTime().UTC(),
			Size:       info.Size(),
		}
		if e.IsDir() {
			item.Kind = KindContainer
		} else {
			item.Kind = fsKind(e.Name())
		}

		// Containers always pass the cutoff: their own mtime says nothing
		// about descendants.
		if item.Kind != KindContainer && filter.ModifiedAfter != nil && !item.ModifiedAt.After(*filter.ModifiedAfter) {
			continue
		}
		items = append(items, item)
	}

	start := 0
	if pageToken != "" {
		if _, err := fmt.Sscanf(pageToken, "%d", &start); err != nil || start < 0 || start > len(items) {
			return nil, fmt.Errorf("invalid page token %q", pageToken)
		}
	}
	end := start + p.pageSize
	next := ""
	if end < len(items) {
		next = fmt.Sprintf("%d", end)
	} else {
		end = len(items)
	}

	return &Page{Items: items[start:end], NextToken: next}, nil
}

func (p *FSProvider) FetchText(ctx context.Context, item Item) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f, err := os.Open(filepath.Join(p.root, filepath.FromSlash(item.ID)))
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", item.ID, err)
	}
	defer f.Close()
	return readLimited(f)
}

func (p *FSProvider) Download(ctx context.Context, item Item, dir string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	src, err := os.Open(filepath.Join(p.root, filepath.FromSlash(item.ID)))
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", item.ID, err)
	}
	defer src.Close()

	dest := filepath.Join(dir, filepath.Base(item.Name))
	out, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("failed to create media file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		os.Remove(dest)
		return "", fmt.Errorf("failed to copy media: %w", err)
	}
	return dest, nil
}

func (p *FSProvider) ContainerName(_ context.Context, containerID string) (string, error) {
	if containerID == "" {
		return filepath.Base(p.root), nil
	}
	return filepath.Base(filepath.FromSlash(containerID)), nil
}

func fsKind(name string) Kind {
	ext := strings.ToLower(filepath.Ext(name))
	switch {
	case textExtensions[ext]:
		return KindDocument
	case mediaExtensions[ext]:
		return KindMedia
	}
	return KindOther
}

func pathJoin(base, name string) string {
	if base == "" {
		return name
	}
	return base + "/" + name
}
