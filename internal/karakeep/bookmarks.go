package karakeep

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/agentworkforce/karasync/internal/titletag"
)

type List struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type listsResponse struct {
	Lists []List `json:"lists"`
}

// List creation has been observed answering with either a top-level id or
// the list nested under "list"; accept both.
type createListResponse struct {
	ID   string `json:"id"`
	List *List  `json:"list"`
}

// bookmarkItem keeps the title raw: the API nulls it out for some bookmark
// types, and a non-string title should skip the item, not fail the page.
type bookmarkItem struct {
	ID    string          `json:"id"`
	Title json.RawMessage `json:"title"`
}

type bookmarksPage struct {
	Bookmarks  []bookmarkItem `json:"bookmarks"`
	NextCursor *string        `json:"nextCursor"`
}

// BookmarkPayload is the create/update body for a text bookmark.
type BookmarkPayload struct {
	Title      string `json:"title"`
	Text       string `json:"text"`
	Type       string `json:"type"`
	Note       string `json:"note"`
	Summary    string `json:"summary"`
	Archived   bool   `json:"archived"`
	Favourited bool   `json:"favourited"`
}

// NewTextBookmark builds the payload for a synced chat transcript.
func NewTextBookmark(title, text string) BookmarkPayload {
	return BookmarkPayload{Title: title, Text: text, Type: "text"}
}

// FindOrCreateList resolves the id of the list named name, creating the
// list when it does not exist. The name comparison is case-sensitive and
// exact. Failure here aborts the run; without a list id the scan has no
// scope.
func (c *Client) FindOrCreateList(ctx context.Context, name string) (string, error) {
	var lists listsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/lists?per_page=1000", nil, &lists, listTimeout); err != nil {
		return "", fmt.Errorf("fetch lists: %w", err)
	}
	for _, list := range lists.Lists {
		if list.Name == name {
			c.logf("found karakeep list %q with id %s", name, list.ID)
			return list.ID, nil
		}
	}

	c.logf("karakeep list %q not found among %d lists; creating", name, len(lists.Lists))
	var created createListResponse
	body := map[string]string{"name": name, "icon": "list"}
	if err := c.doJSON(ctx, http.MethodPost, "/lists", body, &created, listTimeout); err != nil {
		return "", fmt.Errorf("create list %q: %w", name, err)
	}
	id := created.ID
	if id == "" && created.List != nil {
		id = created.List.ID
	}
	if id == "" {
		return "", fmt.Errorf("create list %q: response carried no id", name)
	}
	c.logf("created karakeep list %q with id %s", name, id)
	return id, nil
}

// ScanExistingItems walks every bookmark in the list and builds the map
// from embedded chat id to bookmark id. A timed-out page fetch is retried
// indefinitely with a fixed delay; any other failure aborts the scan and
// returns whatever was accumulated, since a partial map only costs
// duplicate upsert work, never data loss.
func (c *Client) ScanExistingItems(ctx context.Context, listID string) map[string]string {
	items := map[string]string{}
	cursor := ""
	processed := 0
	for {
		path := "/lists/" + url.PathEscape(listID) + "/bookmarks"
		if cursor != "" {
			path += "?cursor=" + url.QueryEscape(cursor)
		}
		var page bookmarksPage
		if err := c.doJSON(ctx, http.MethodGet, path, nil, &page, scanTimeout); err != nil {
			if isTimeout(err) && ctx.Err() == nil {
				c.logf("warning: timeout fetching bookmarks (cursor %q); retrying in %s", cursor, c.retryDelay)
				if sleepErr := sleepContext(ctx, c.retryDelay); sleepErr != nil {
					return items
				}
				continue
			}
			c.logf("error fetching bookmark map (cursor %q): %v", cursor, err)
			return items
		}
		if len(page.Bookmarks) == 0 {
			break
		}
		for _, item := range page.Bookmarks {
			processed++
			if item.ID == "" {
				c.logf("warning: bookmark without an id in list %s; skipping", listID)
				continue
			}
			title, ok := titleString(item.Title)
			if !ok {
				c.logf("warning: bookmark %s has a non-string title; skipping", item.ID)
				continue
			}
			if chatID, found := titletag.Decode(title); found {
				items[chatID] = item.ID
			}
		}
		if page.NextCursor == nil || *page.NextCursor == "" {
			break
		}
		cursor = *page.NextCursor
		if err := sleepContext(ctx, c.pageDelay); err != nil {
			return items
		}
	}
	c.logf("scanned %d bookmarks in list %s; %d carry identifier tags", processed, listID, len(items))
	return items
}

// Upsert writes one chat transcript to the destination. With an existingID
// it updates in place, falling back to the create path when the server
// reports the bookmark gone. The create path is two-step and non-atomic:
// a create that succeeds but fails to link leaves an unlisted orphan item,
// reported as a failure so the record is retried (and recreated) next run.
func (c *Client) Upsert(ctx context.Context, payload BookmarkPayload, listID, existingID string) error {
	if existingID != "" {
		err := c.UpdateBookmark(ctx, existingID, payload)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		c.logf("warning: bookmark %s not found during update; creating instead", existingID)
	}
	id, err := c.CreateBookmark(ctx, payload)
	if err != nil {
		return err
	}
	if err := c.LinkBookmark(ctx, listID, id); err != nil {
		return fmt.Errorf("bookmark %s created but not linked into list %s: %w", id, listID, err)
	}
	return nil
}

// CreateBookmark creates a standalone bookmark and returns its id. The new
// bookmark belongs to no list until linked.
func (c *Client) CreateBookmark(ctx context.Context, payload BookmarkPayload) (string, error) {
	var created struct {
		ID string `json:"id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/bookmarks", payload, &created, writeTimeout); err != nil {
		return "", fmt.Errorf("create bookmark: %w", err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("create bookmark: response carried no id")
	}
	return created.ID, nil
}

// UpdateBookmark rewrites an existing bookmark in place. A 404 maps to
// ErrNotFound so callers can fall back to creating.
func (c *Client) UpdateBookmark(ctx context.Context, id string, payload BookmarkPayload) error {
	err := c.doJSON(ctx, http.MethodPut, "/bookmarks/"+url.PathEscape(id), payload, nil, writeTimeout)
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
		return fmt.Errorf("update bookmark %s: %w", id, ErrNotFound)
	}
	return err
}

// LinkBookmark attaches a bookmark to a list. The endpoint expects an empty
// JSON object body.
func (c *Client) LinkBookmark(ctx context.Context, listID, bookmarkID string) error {
	path := "/lists/" + url.PathEscape(listID) + "/bookmarks/" + url.PathEscape(bookmarkID)
	return c.doJSON(ctx, http.MethodPut, path, struct{}{}, nil, linkTimeout)
}

func titleString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", true
	}
	var title string
	if err := json.Unmarshal(raw, &title); err != nil {
		return "", false
	}
	return title, true
}
