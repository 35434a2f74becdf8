package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/cloo-solutions/corpora/internal/domain"
)

// Google Workspace MIME types.
const (
	mimeGoogleDoc    = "application/vnd.google-apps.document"
	mimeGoogleFolder = "application/vnd.google-apps.folder"
	exportMimeText   = "text/plain"
)

// maxFetchSize caps document downloads (10MB).
const maxFetchSize = 10 * 1024 * 1024

// DriveProvider reads a Google Drive tree through the Drive v3 API.
type DriveProvider struct {
	svc *drive.Service
}

// NewDriveProvider creates a read-only Drive provider using a service
// account credentials file.
func NewDriveProvider(ctx context.Context, credentialsFile string) (*DriveProvider, error) {
	svc, err := drive.NewService(ctx,
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(drive.DriveReadonlyScope),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}
	return &DriveProvider{svc: svc}, nil
}

// NewDriveProviderWithService wraps an already-constructed Drive service.
func NewDriveProviderWithService(svc *drive.Service) *DriveProvider {
	return &DriveProvider{svc: svc}
}

func (p *DriveProvider) Origin() string { return "gdrive" }

// CompileFilter builds the Drive query string once per container. The
// incremental predicate is "modifiedTime strictly after the last fully
// processed pass".
func (p *DriveProvider) CompileFilter(containerID string, modifiedAfter *time.Time) Filter {
	q := fmt.Sprintf("'%s' in parents and trashed = false", containerID)
	if modifiedAfter != nil {
		q += fmt.Sprintf(" and modifiedTime > '%s'", modifiedAfter.UTC().Format(time.RFC3339))
	}
	return Filter{ContainerID: containerID, ModifiedAfter: modifiedAfter, Query: q}
}

func (p *DriveProvider) List(ctx context.Context, filter Filter, pageToken string) (*Page, error) {
	call := p.svc.Files.List().
		Q(filter.Query).
		Spaces("drive").
		Fields("nextPageToken, files(id, name, mimeType, modifiedTime, size, parents)").
		PageSize(100).
		Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	resp, err := call.Do()
	if err != nil {
		return nil, classifyDriveError(err)
	}

	page := &Page{NextToken: resp.NextPageToken}
	for _, f := range resp.Files {
		item := Item{
			ID:       f.Id,
			Name:     f.Name,
			MimeType: f.MimeType,
			Kind:     driveKind(f.MimeType),
			Size:     f.Size,
		}
		if f.ModifiedTime != "" {
			if ts, perr := time.Parse(time.RFC3339, f.ModifiedTime); perr == nil {
				item.ModifiedAt = ts.UTC()
			}
		}
		page.Items = append(page.Items, item)
	}
	return page, nil
}

func (p *DriveProvider) FetchText(ctx context.Context, item Item) (string, error) {
	if item.MimeType == mimeGoogleDoc {
		r, err := p.svc.Files.Export(item.ID, exportMimeText).Context(ctx).Download()
		if err != nil {
			return "", classifyDriveError(err)
		}
		defer r.Body.Close()
		return readLimited(r.Body)
	}

	r, err := p.svc.Files.Get(item.ID).Context(ctx).Download()
	if err != nil {
		return "", classifyDriveError(err)
	}
	defer r.Body.Close()
	return readLimited(r.Body)
}

func (p *DriveProvider) Download(ctx context.Context, item Item, dir string) (string, error) {
	r, err := p.svc.Files.Get(item.ID).Context(ctx).Download()
	if err != nil {
		return "", classifyDriveError(err)
	}
	defer r.Body.Close()

	dest := filepath.Join(dir, item.ID+filepath.Ext(item.Name))
	f, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("failed to create media file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r.Body); err != nil {
		os.Remove(dest)
		return "", domain.NewTransientError("media download interrupted", err)
	}
	return dest, nil
}

func (p *DriveProvider) ContainerName(ctx context.Context, containerID string) (string, error) {
	f, err := p.svc.Files.Get(containerID).Fields("id, name").Context(ctx).Do()
	if err != nil {
		return "", classifyDriveError(err)
	}
	return f.Name, nil
}

func driveKind(mimeType string) Kind {
	switch {
	case mimeType == mimeGoogleFolder:
		return KindContainer
	case strings.HasPrefix(mimeType, "video/"), strings.HasPrefix(mimeType, "audio/"):
		return KindMedia
	case mimeType == mimeGoogleDoc,
		strings.HasPrefix(mimeType, "text/"),
		mimeType == "application/pdf",
		mimeType == "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return KindDocument
	}
	return KindOther
}

func readLimited(r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxFetchSize))
	if err != nil {
		return "", domain.NewTransientError("content read interrupted", err)
	}
	return string(data), nil
}

// classifyDriveError maps Drive API failures onto the domain taxonomy.
func classifyDriveError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Code == 429 || gerr.Code >= 500 {
			return domain.NewTransientError("drive api error", err)
		}
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return domain.NewTransientError("drive network error", err)
	}
	return err
}
