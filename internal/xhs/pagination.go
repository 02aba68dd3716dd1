package xhs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// PageSink receives each page of comments in cursor order as a streaming
// side channel, in addition to the aggregated result. Implementations must
// not panic; guarding failures inside the sink is the caller's
// responsibility.
type PageSink func(noteID string, comments []json.RawMessage)

// CollectAllComments walks the first-level comment pages of a note to
// exhaustion and returns every comment in cursor order.
//
// interval is the mandatory delay applied after every fetched page,
// including the last one: the platform rate-limits bursty crawls, and an
// immediately-following crawl of another note must not start hot.
//
// A page without the comments key stops the crawl and returns everything
// accumulated so far. That is deliberate truncation, not an error, but it is
// logged so that upstream failures masked by it stay observable.
func (c *Client) CollectAllComments(ctx context.Context, noteID string, interval time.Duration, sink PageSink) ([]json.RawMessage, error) {
	var all []json.RawMessage
	cursor := ""
	for hasMore := true; hasMore; {
		out, err := c.NoteComments(ctx, noteID, cursor)
		if err != nil {
			return all, err
		}
		if !out.IsSuccess() {
			return all, out.Err()
		}

		hasMore = out.Get("has_more").Bool()
		cursor = out.Get("cursor").String()

		comments := out.Get("comments")
		if !comments.Exists() {
			c.logger.Warn("comments key missing from page; stopping crawl",
				zap.String("note_id", noteID),
				zap.Int("collected", len(all)))
			break
		}

		page := rawMessages(comments)
		if sink != nil && len(page) > 0 {
			sink(noteID, page)
		}
		if err := sleepFor(ctx, interval); err != nil {
			return all, err
		}
		all = append(all, page...)
	}
	return all, nil
}

func rawMessages(res gjson.Result) []json.RawMessage {
	arr := res.Array()
	out := make([]json.RawMessage, 0, len(arr))
	for _, item := range arr {
		out = append(out, json.RawMessage(item.Raw))
	}
	return out
}

func sleepFor(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
