package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// deltaPreferHeader requests that the Graph API include remote/shared items
// using stable alias IDs in delta responses. Without this header, Personal
// accounts may receive incomplete delta results for shared folders.
var deltaPreferHeader = http.Header{
	"Prefer": {"deltashowremoteitemsaliasid"},
}

// deltaHTTPPrefix is the scheme prefix used to detect full URL tokens
// returned by the Graph API delta endpoint.
const deltaHTTPPrefix = "http"

// maxDeltaPages is the hard safety limit on pages fetched in a single
// FetchAll run (spec §4.1): protects against a server-side paging loop.
const maxDeltaPages = 10000

// ErrDeltaPageLimitExceeded is returned when a single FetchAll run would
// exceed maxDeltaPages.
var ErrDeltaPageLimitExceeded = errors.New("graph: delta page limit exceeded")

// ErrDeltaNoResumeToken is returned when the final page of a delta stream
// carries neither a nextLink nor a deltaLink. Synthesizing an ad-hoc token
// from a timestamp (as some implementations do) silently loses
// incrementality; this spec treats the condition as a hard error instead
// (spec §9, "Delta-token semantics").
var ErrDeltaNoResumeToken = errors.New("graph: delta stream ended without a resume token")

// Delta fetches one page of delta changes for a drive. Pass an empty token
// for the initial sync. For subsequent calls, pass the DeltaLink or NextLink
// value from the previous DeltaPage. Returns a DeltaPage with normalized
// items, and either NextLink (more pages) or DeltaLink (done).
func (c *Client) Delta(ctx context.Context, driveID, token string) (*DeltaPage, error) {
	path, err := c.buildDeltaPath(driveID, token)
	if err != nil {
		return nil, err
	}

	c.logger.Info("fetching delta page", slog.String("drive_id", driveID), slog.Bool("initial_sync", token == ""))

	resp, err := c.DoWithHeaders(ctx, http.MethodGet, path, nil, deltaPreferHeader)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var dr deltaResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return nil, fmt.Errorf("graph: decoding delta response: %w", err)
	}

	items := make([]Item, 0, len(dr.Value))
	for i := range dr.Value {
		items = append(items, dr.Value[i].toItem(c.logger))
	}

	items = normalizeDeltaItems(items, c.logger)

	c.logger.Debug("fetched delta page",
		slog.Int("raw_count", len(dr.Value)),
		slog.Int("normalized_count", len(items)),
		slog.Bool("has_next_link", dr.NextLink != ""),
		slog.Bool("has_delta_link", dr.DeltaLink != ""),
	)

	return &DeltaPage{Items: items, NextLink: dr.NextLink, DeltaLink: dr.DeltaLink}, nil
}

// buildDeltaPath constructs the API path for a delta request. Empty token
// means initial sync; a non-empty token is a full URL from a previous
// response that gets stripped to a relative path.
func (c *Client) buildDeltaPath(driveID, token string) (string, error) {
	if token == "" || !strings.HasPrefix(token, deltaHTTPPrefix) {
		return fmt.Sprintf("/drives/%s/root/delta", driveID), nil
	}

	path, err := c.stripBaseURL(token)
	if err != nil {
		return "", fmt.Errorf("graph: invalid delta token URL: %w", err)
	}

	return path, nil
}

// stripBaseURL removes the client's base URL prefix from a full URL,
// returning the path + query string for use with Do().
func (c *Client) stripBaseURL(fullURL string) (string, error) {
	if !strings.HasPrefix(fullURL, c.baseURL) {
		return "", fmt.Errorf("graph: nextLink URL %q does not match base URL %q", fullURL, c.baseURL)
	}

	return fullURL[len(c.baseURL):], nil
}

// DeltaPageCallback is invoked once per fetched page, before FetchAll
// advances to the next one. Returning a non-nil error aborts the fetch; the
// error propagates from FetchAll unchanged. This is the hook the StateStore
// uses to apply each page transactionally (spec §4.2 "commit page
// application and token update in a single transaction").
type DeltaPageCallback func(ctx context.Context, page *DeltaPage) error

// FetchAll pages through the full delta stream starting at previousToken
// (empty for an initial sync), invoking onPage for each page. It returns the
// final resumable token (always a non-empty DeltaLink on success), the
// number of pages seen, and the number of items seen.
//
// Cancellation is checked before each page fetch. A hard safety limit of
// maxDeltaPages protects against a server-side paging loop.
func (c *Client) FetchAll(
	ctx context.Context, driveID, previousToken string, onPage DeltaPageCallback,
) (finalToken string, pagesSeen, itemsSeen int, err error) {
	currentToken := previousToken

	for pagesSeen < maxDeltaPages {
		if err := ctx.Err(); err != nil {
			return "", pagesSeen, itemsSeen, fmt.Errorf("graph: delta fetch canceled: %w", err)
		}

		page, err := c.Delta(ctx, driveID, currentToken)
		if err != nil {
			return "", pagesSeen, itemsSeen, err
		}

		if onPage != nil {
			if err := onPage(ctx, page); err != nil {
				return "", pagesSeen, itemsSeen, err
			}
		}

		pagesSeen++
		itemsSeen += len(page.Items)

		switch {
		case page.DeltaLink != "":
			c.logger.Info("full delta enumeration complete",
				slog.String("drive_id", driveID), slog.Int("total_items", itemsSeen), slog.Int("pages", pagesSeen))

			return page.DeltaLink, pagesSeen, itemsSeen, nil
		case page.NextLink != "":
			currentToken = page.NextLink
		default:
			return "", pagesSeen, itemsSeen, ErrDeltaNoResumeToken
		}
	}

	return "", pagesSeen, itemsSeen, ErrDeltaPageLimitExceeded
}
