package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// rootPrefixMarker is the common suffix of both parentReference.path prefix
// forms ("/drive/root:" for Personal accounts, "/drives/{id}/root:" for
// Business accounts / other drives) stripped when deriving a RelativePath
// (spec §4.1). Matching is case-insensitive; the drive id segment of the
// second form is a wildcard, matched structurally below.
const rootPrefixMarker = "/root:"

// Timestamp validation bounds — timestamps outside this range are replaced
// with the current time and a warning is logged.
const (
	minValidYear = 1970
	maxValidYear = 2100
)

// ErrInvalidPath is returned when a remote path is empty or has a leading slash.
var ErrInvalidPath = errors.New("graph: invalid remote path (empty or has leading slash)")

func validateRemotePath(remotePath string) error {
	if remotePath == "" || strings.HasPrefix(remotePath, "/") {
		return ErrInvalidPath
	}

	return nil
}

// driveItemResponse mirrors the Graph API driveItem JSON exactly.
// Unexported — callers use Item via toItem() normalization.
type driveItemResponse struct {
	ID                   string           `json:"id"`
	Name                 string           `json:"name"`
	Size                 int64            `json:"size"`
	ETag                 string           `json:"eTag"`
	CTag                 string           `json:"cTag"`
	LastModifiedDateTime string           `json:"lastModifiedDateTime"`
	ParentReference      *parentRef       `json:"parentReference"`
	File                 *fileFacet       `json:"file"`
	Folder               *folderFacet     `json:"folder"`
	Deleted              *json.RawMessage `json:"deleted"`
	Package              *json.RawMessage `json:"package"`
	DownloadURL          string           `json:"@microsoft.graph.downloadUrl"` //nolint:tagliatelle // Graph API annotation key
}

// parentRef carries the Graph API's path-based parent addressing. Path has
// the form "/drive/root:/A/B" (Personal accounts) or "/drives/{id}/root:/A/B"
// (Business accounts / other drives); stripRootPrefix below normalizes both.
type parentRef struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}

type fileFacet struct {
	MimeType string `json:"mimeType"`
}

type folderFacet struct {
	ChildCount int `json:"childCount"`
}

type deltaResponse struct {
	Value     []driveItemResponse `json:"value"`
	NextLink  string              `json:"@odata.nextLink"`  //nolint:tagliatelle // OData annotation key
	DeltaLink string              `json:"@odata.deltaLink"` //nolint:tagliatelle // OData annotation key
}

// stripRootPrefix removes the "/drive/root:" or "/drives/{id}/root:" prefix
// from a parentReference.path value, case-insensitively, returning the
// remaining path with no leading or trailing slash. An empty or "root:"-only
// path yields "" (the item's parent is the drive root).
func stripRootPrefix(path string) string {
	lower := strings.ToLower(path)

	idx := strings.Index(lower, rootPrefixMarker)
	if idx == -1 {
		// No "root:" marker at all — treat the whole thing as relative.
		return strings.Trim(path, "/")
	}

	rest := path[idx+len(rootPrefixMarker):]

	return strings.Trim(rest, "/")
}

// relativePath derives the spec §4.1 normalized relative path from a parent
// path and an item name. Forward-slash separated, never has a leading slash.
func relativePath(parentPath, name string) string {
	parent := stripRootPrefix(parentPath)
	if parent == "" {
		return name
	}

	return parent + "/" + name
}

// encodePathSegments percent-encodes each segment of a relative path for use
// in a Graph API path-based address (e.g. "/root:/{path}:/content"), without
// encoding the forward-slash separators themselves.
func encodePathSegments(remotePath string) string {
	segments := strings.Split(remotePath, "/")

	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}

	return strings.Join(segments, "/")
}

// toItem normalizes a Graph API driveItem response into our Item type.
func (d *driveItemResponse) toItem(logger *slog.Logger) Item {
	item := Item{
		ID:          d.ID,
		Name:        d.Name,
		Size:        d.Size,
		ETag:        d.ETag,
		CTag:        d.CTag,
		IsFolder:    d.Folder != nil,
		IsDeleted:   d.Deleted != nil,
		IsPackage:   d.Package != nil,
		ChildCount:  ChildCountUnknown,
		DownloadURL: d.DownloadURL,
	}

	if d.ParentReference != nil {
		item.ParentID = d.ParentReference.ID
		item.parentPath = d.ParentReference.Path
	}

	item.RelativePath = relativePath(item.parentPath, item.Name)

	if d.Folder != nil {
		item.ChildCount = d.Folder.ChildCount
	}

	if d.File != nil {
		item.MimeType = d.File.MimeType
	}

	item.ModifiedAt = parseTimestamp(d.LastModifiedDateTime, d.ID, item.IsDeleted, logger)

	return item
}

// parseTimestamp parses an RFC3339 timestamp and validates the year range.
// Invalid or out-of-range timestamps fall back to time.Now().UTC() and are
// logged. Deleted items routinely carry empty timestamps (expected OneDrive
// behavior), so those are logged at DEBUG rather than WARN.
func parseTimestamp(raw, itemID string, isDeleted bool, logger *slog.Logger) time.Time {
	logFunc := logger.Warn
	if isDeleted {
		logFunc = logger.Debug
	}

	if raw == "" {
		logFunc("empty timestamp, using current time", slog.String("item_id", itemID))
		return time.Now().UTC()
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		logFunc("invalid timestamp, using current time",
			slog.String("item_id", itemID), slog.String("raw", raw), slog.String("error", err.Error()))

		return time.Now().UTC()
	}

	if t.Year() < minValidYear || t.Year() > maxValidYear {
		logFunc("timestamp out of valid range, using current time",
			slog.String("item_id", itemID), slog.String("raw", raw))

		return time.Now().UTC()
	}

	return t
}

// GetItem fetches a single drive item's current metadata, including a fresh
// pre-authenticated DownloadURL (the Graph API reissues this on every read;
// a value cached from an earlier delta page may have already expired).
func (c *Client) GetItem(ctx context.Context, driveID, itemID string) (*Item, error) {
	c.logger.Debug("getting item", slog.String("drive_id", driveID), slog.String("item_id", itemID))

	path := fmt.Sprintf("/drives/%s/items/%s", driveID, itemID)

	resp, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var dir driveItemResponse
	if decErr := json.NewDecoder(resp.Body).Decode(&dir); decErr != nil {
		return nil, fmt.Errorf("graph: decoding get item response: %w", decErr)
	}

	item := dir.toItem(c.logger)

	return &item, nil
}

// DeleteItem deletes a drive item. Returns nil on success (HTTP 204).
func (c *Client) DeleteItem(ctx context.Context, driveID, itemID string) error {
	c.logger.Info("deleting item", slog.String("drive_id", driveID), slog.String("item_id", itemID))

	path := fmt.Sprintf("/drives/%s/items/%s", driveID, itemID)

	resp, err := c.Do(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if _, copyErr := io.Copy(io.Discard, resp.Body); copyErr != nil {
		return fmt.Errorf("graph: draining delete response body: %w", copyErr)
	}

	return nil
}
