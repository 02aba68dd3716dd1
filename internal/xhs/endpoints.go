package xhs

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/RockyZHH/MediaCrawler/api/schemas"
)

// API endpoint paths.
const (
	uriSelfInfo    = "/api/sns/web/v1/user/selfinfo"
	uriSearchNotes = "/api/sns/web/v1/search/notes"
	uriNoteFeed    = "/api/sns/web/v1/feed"
	uriComments    = "/api/sns/web/v2/comment/page"
	uriSubComments = "/api/sns/web/v2/comment/sub/page"
)

// SelfInfo fetches the logged-in account's profile.
func (c *Client) SelfInfo(ctx context.Context) (schemas.Outcome, error) {
	return c.Get(ctx, uriSelfInfo, nil)
}

// SearchOptions control a keyword search. Zero values mean page 1, page size
// 20, general sort, all note types.
type SearchOptions struct {
	Page     int
	PageSize int
	Sort     schemas.SearchSortType
	NoteType schemas.SearchNoteType
}

// SearchNotes searches notes by keyword. Every call carries a freshly
// generated opaque search-session id.
func (c *Client) SearchNotes(ctx context.Context, keyword string, opts SearchOptions) (schemas.Outcome, error) {
	if opts.Page <= 0 {
		opts.Page = 1
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 20
	}
	if opts.Sort == "" {
		opts.Sort = schemas.SortGeneral
	}
	payload := map[string]any{
		"keyword":   keyword,
		"page":      opts.Page,
		"page_size": opts.PageSize,
		"search_id": NewSearchID(),
		"sort":      string(opts.Sort),
		"note_type": int(opts.NoteType),
	}
	return c.Post(ctx, uriSearchNotes, payload)
}

// GetNoteByID fetches the detail card for one note. When the feed comes back
// without items the error is logged and an empty object is returned rather
// than failing, matching the endpoint's long-standing caller contract.
func (c *Client) GetNoteByID(ctx context.Context, noteID string) (json.RawMessage, error) {
	out, err := c.Post(ctx, uriNoteFeed, map[string]any{"source_note_id": noteID})
	if err != nil {
		return nil, err
	}
	switch out.Kind {
	case schemas.OutcomeSuccess:
		card := out.Get("items.0.note_card")
		if card.Exists() {
			return json.RawMessage(card.Raw), nil
		}
		c.logger.Error("note feed returned no items",
			zap.String("note_id", noteID))
		return json.RawMessage("{}"), nil
	case schemas.OutcomeRaw:
		c.logger.Error("note feed returned an unclassifiable response",
			zap.String("note_id", noteID),
			zap.Int("status", out.RawStatus))
		return json.RawMessage("{}"), nil
	default:
		return nil, out.Err()
	}
}

// NoteComments fetches one page of first-level comments. An empty cursor
// starts from the beginning.
func (c *Client) NoteComments(ctx context.Context, noteID, cursor string) (schemas.Outcome, error) {
	params := url.Values{
		"note_id": {noteID},
		"cursor":  {cursor},
	}
	return c.Get(ctx, uriComments, params)
}

// NoteSubComments fetches one page of replies under a root comment.
func (c *Client) NoteSubComments(ctx context.Context, noteID, rootCommentID string, num int, cursor string) (schemas.Outcome, error) {
	if num <= 0 {
		num = 30
	}
	params := url.Values{
		"note_id":         {noteID},
		"root_comment_id": {rootCommentID},
		"num":             {strconv.Itoa(num)},
		"cursor":          {cursor},
	}
	return c.Get(ctx, uriSubComments, params)
}

// Pong probes whether the login state is still alive with one lightweight
// search. Probing must never crash the caller: every failure, including
// transport faults, is swallowed and reported as a dead session.
func (c *Client) Pong(ctx context.Context) bool {
	c.logger.Info("probing session liveness")
	out, err := c.SearchNotes(ctx, "小红书", SearchOptions{})
	if err != nil {
		c.logger.Error("liveness probe failed", zap.Error(err))
		return false
	}
	if !out.IsSuccess() {
		c.logger.Error("liveness probe rejected", zap.Error(out.Err()))
		return false
	}
	items := out.Get("items")
	alive := items.IsArray() && len(items.Array()) > 0
	if !alive {
		c.logger.Warn("liveness probe returned no items; session appears dead")
	}
	return alive
}
