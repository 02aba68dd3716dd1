package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/RockyZHH/MediaCrawler/internal/observability"
	"github.com/RockyZHH/MediaCrawler/internal/publish"
)

var (
	publishTitle    string
	publishDesc     string
	publishPrivate  bool
	publishPostTime string
)

var publishCmd = &cobra.Command{
	Use:   "publish <image-file>...",
	Short: "Publish an image note from local files.",
	Long: `Publish uploads each image through the permit and transfer phases in
order, then submits one note binding them all. A failure aborts the run;
already uploaded files are left on the server.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withComponents(cmd.Context(), func(ctx context.Context, c *Components) error {
			logger := observability.GetLogger()

			out, err := c.Pipeline.CreateImageNote(ctx, publish.ImageNoteRequest{
				Title:    publishTitle,
				Desc:     publishDesc,
				Files:    args,
				PostTime: publishPostTime,
				Private:  publishPrivate,
			})
			if err != nil {
				var abort *publish.AbortError
				if errors.As(err, &abort) {
					logger.Error("Publication aborted.",
						zap.Stringer("phase", abort.Phase),
						zap.Error(abort.Err))
				}
				return err
			}
			if !out.IsSuccess() {
				return out.Err()
			}
			fmt.Println("note published")
			return emit(out.Data)
		})
	},
}

func init() {
	publishCmd.Flags().StringVarP(&publishTitle, "title", "t", "", "note title")
	publishCmd.Flags().StringVarP(&publishDesc, "desc", "d", "", "note description")
	publishCmd.Flags().BoolVar(&publishPrivate, "private", false, "publish as private")
	publishCmd.Flags().StringVar(&publishPostTime, "post-time", "", `schedule publication ("2006-01-02 15:04:05" local time)`)
	publishCmd.Flags().StringVarP(&outputFile, "output", "o", "", "write the result to a file instead of stdout")
}
