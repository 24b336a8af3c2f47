package graph

import "time"

// ChildCountUnknown indicates the child count was not present in the API response.
const ChildCountUnknown = -1

// Item represents a OneDrive drive item (file, folder, or package), normalized
// from the Graph API response. RelativePath is derived once here (see items.go)
// so every downstream component compares paths in the same normalized form
// (spec §4.1): stripped of the "/drive/root:" or "/drives/{id}/root:" prefix,
// forward-slash separated, no leading slash.
type Item struct {
	ID           string
	Name         string
	RelativePath string
	ParentID     string
	Size         int64
	ETag         string
	CTag         string
	IsFolder     bool
	IsDeleted    bool
	IsPackage    bool // OneNote packages — sync should skip these
	MimeType     string
	ModifiedAt   time.Time
	ChildCount   int    // ChildCountUnknown if not present
	DownloadURL  string // pre-authenticated, ephemeral; never logged

	// parentPath is the raw parentReference.path carried through so
	// RelativePath can be recomputed if Name is later URL-decoded
	// (see normalize.go's decodeURLEncodedNames).
	parentPath string
}

// RecomputeRelativePath rebuilds RelativePath from the item's raw parent
// path and current Name. Called after Name is mutated post-parse (e.g. by
// URL-decoding) so RelativePath never goes stale relative to Name.
func (i *Item) RecomputeRelativePath() {
	i.RelativePath = relativePath(i.parentPath, i.Name)
}

// DeltaPage is one page of a delta response.
type DeltaPage struct {
	Items     []Item
	NextLink  string // set when more pages follow
	DeltaLink string // set when the stream has caught up; the resumable token
}

// UploadSession is a resumable upload session handle.
type UploadSession struct {
	UploadURL      string
	ExpirationTime time.Time
}

// UploadSessionStatus reports the state of an in-progress upload session.
type UploadSessionStatus struct {
	UploadURL          string
	ExpirationTime     time.Time
	NextExpectedRanges []string
}
