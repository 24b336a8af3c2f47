package graph

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTokenSource struct{}

func (fakeTokenSource) Token() (string, error) { return "fake-token", nil }

func newDeltaTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, srv.Client(), fakeTokenSource{}, discardLogger(), "test-agent")
	c.sleepFunc = noopSleep

	return c, srv
}

func TestDelta_InitialSync(t *testing.T) {
	var gotPath string

	c, _ := newDeltaTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		assert.Equal(t, "deltashowremoteitemsaliasid", r.Header.Get("Prefer"))

		resp := deltaResponse{
			Value: []driveItemResponse{
				{ID: "item1", Name: "file.txt", ParentReference: &parentRef{Path: "/drive/root:"}},
			},
			DeltaLink: "https://example.com/delta-link-token",
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})

	page, err := c.Delta(context.Background(), "drive1", "")
	require.NoError(t, err)

	assert.Equal(t, "/drives/drive1/root/delta", gotPath)
	assert.Len(t, page.Items, 1)
	assert.Equal(t, "file.txt", page.Items[0].RelativePath)
	assert.Equal(t, "https://example.com/delta-link-token", page.DeltaLink)
	assert.Empty(t, page.NextLink)
}

func TestDelta_ResumeFromNextLink(t *testing.T) {
	c, srv := newDeltaTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/next-page", r.URL.Path)

		resp := deltaResponse{DeltaLink: "final-token"}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})

	_, err := c.Delta(context.Background(), "drive1", srv.URL+"/next-page")
	require.NoError(t, err)
}

func TestFetchAll_MultiplePages(t *testing.T) {
	var page int32

	c, _ := newDeltaTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&page, 1)

		var resp deltaResponse

		switch n {
		case 1:
			resp = deltaResponse{
				Value:    []driveItemResponse{{ID: "item1", Name: "a.txt", ParentReference: &parentRef{Path: "/drive/root:"}}},
				NextLink: "http://" + r.Host + "/page2",
			}
		default:
			resp = deltaResponse{
				Value:     []driveItemResponse{{ID: "item2", Name: "b.txt", ParentReference: &parentRef{Path: "/drive/root:"}}},
				DeltaLink: "http://" + r.Host + "/delta-final",
			}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})

	var pagesApplied int
	var itemsApplied int

	token, pages, items, err := c.FetchAll(context.Background(), "drive1", "", func(_ context.Context, p *DeltaPage) error {
		pagesApplied++
		itemsApplied += len(p.Items)

		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 2, pages)
	assert.Equal(t, 2, items)
	assert.Equal(t, 2, pagesApplied)
	assert.Equal(t, 2, itemsApplied)
	assert.Contains(t, token, "/delta-final")
}

func TestFetchAll_NoResumeTokenIsHardError(t *testing.T) {
	c, _ := newDeltaTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(deltaResponse{})
	})

	_, _, _, err := c.FetchAll(context.Background(), "drive1", "", nil)

	require.ErrorIs(t, err, ErrDeltaNoResumeToken)
}

func TestFetchAll_CallbackErrorAborts(t *testing.T) {
	c, _ := newDeltaTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(deltaResponse{DeltaLink: "final"})
	})

	boom := assert.AnError

	_, _, _, err := c.FetchAll(context.Background(), "drive1", "", func(_ context.Context, _ *DeltaPage) error {
		return boom
	})

	require.ErrorIs(t, err, boom)
}

func TestFetchAll_CanceledContext(t *testing.T) {
	c, _ := newDeltaTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(deltaResponse{DeltaLink: "final"})
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, _, err := c.FetchAll(ctx, "drive1", "", nil)
	require.Error(t, err)
}

func TestStripBaseURL_MismatchedBase(t *testing.T) {
	c, _ := newDeltaTestClient(t, func(http.ResponseWriter, *http.Request) {})

	_, err := c.stripBaseURL("https://other-host.example.com/delta")
	require.Error(t, err)
}
