package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/RockyZHH/MediaCrawler/api/schemas"
	"github.com/RockyZHH/MediaCrawler/internal/config"
	"github.com/RockyZHH/MediaCrawler/internal/observability"
	"github.com/RockyZHH/MediaCrawler/internal/xhs"
)

var (
	searchPage     int
	searchPageSize int
	searchSort     string
	searchType     int
	outputFile     string
)

var searchCmd = &cobra.Command{
	Use:   "search <keyword>",
	Short: "Search notes by keyword and print the result page as JSON.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withComponents(cmd.Context(), func(ctx context.Context, c *Components) error {
			out, err := c.Client.SearchNotes(ctx, args[0], xhs.SearchOptions{
				Page:     searchPage,
				PageSize: searchPageSize,
				Sort:     schemas.SearchSortType(searchSort),
				NoteType: schemas.SearchNoteType(searchType),
			})
			if err != nil {
				return err
			}
			if !out.IsSuccess() {
				return out.Err()
			}
			return emit(out.Data)
		})
	},
}

var noteCmd = &cobra.Command{
	Use:   "note <note-id>",
	Short: "Fetch the detail card for one note.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withComponents(cmd.Context(), func(ctx context.Context, c *Components) error {
			card, err := c.Client.GetNoteByID(ctx, args[0])
			if err != nil {
				return err
			}
			return emit(card)
		})
	},
}

var commentsCmd = &cobra.Command{
	Use:   "comments <note-id>",
	Short: "Collect every comment page of a note, honoring the per-page delay.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withComponents(cmd.Context(), func(ctx context.Context, c *Components) error {
			logger := observability.GetLogger()
			interval := config.Get().Crawl.PageInterval

			comments, err := c.Client.CollectAllComments(ctx, args[0], interval,
				func(noteID string, page []json.RawMessage) {
					logger.Info("Comment page collected.",
						zap.String("note_id", noteID),
						zap.Int("comments", len(page)))
				})
			if err != nil {
				// Emit what was collected before the failure, then report it.
				if len(comments) > 0 {
					_ = emit(mustMarshal(comments))
				}
				return err
			}
			return emit(mustMarshal(comments))
		})
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Fetch the logged-in account's profile.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withComponents(cmd.Context(), func(ctx context.Context, c *Components) error {
			out, err := c.Client.SelfInfo(ctx)
			if err != nil {
				return err
			}
			if !out.IsSuccess() {
				return out.Err()
			}
			return emit(out.Data)
		})
	},
}

var subCommentCursor string

var subCommentsCmd = &cobra.Command{
	Use:   "subcomments <note-id> <root-comment-id>",
	Short: "Fetch one page of replies under a root comment.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withComponents(cmd.Context(), func(ctx context.Context, c *Components) error {
			out, err := c.Client.NoteSubComments(ctx, args[0], args[1],
				config.Get().Crawl.SubCommentPageSize, subCommentCursor)
			if err != nil {
				return err
			}
			if !out.IsSuccess() {
				return out.Err()
			}
			return emit(out.Data)
		})
	},
}

// emit writes one JSON document to the output file or stdout.
func emit(doc json.RawMessage) error {
	if len(doc) == 0 {
		doc = json.RawMessage("null")
	}
	if outputFile == "" {
		fmt.Println(string(doc))
		return nil
	}
	if err := os.WriteFile(outputFile, append(doc, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func init() {
	searchCmd.Flags().IntVar(&searchPage, "page", 1, "result page to fetch")
	searchCmd.Flags().IntVar(&searchPageSize, "page-size", 20, "results per page")
	searchCmd.Flags().StringVar(&searchSort, "sort", "general", "sort order: general, time_descending, popularity_descending")
	searchCmd.Flags().IntVar(&searchType, "type", 0, "note type filter: 0 all, 1 video, 2 image")

	subCommentsCmd.Flags().StringVar(&subCommentCursor, "cursor", "", "resume from a previous page's cursor")

	for _, cmd := range []*cobra.Command{searchCmd, noteCmd, commentsCmd, subCommentsCmd, whoamiCmd} {
		cmd.Flags().StringVarP(&outputFile, "output", "o", "", "write the result to a file instead of stdout")
	}
}
