package commands

import (
	"errors"
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/AshkanYarmoradi/go-stoat"
	"github.com/AshkanYarmoradi/go-stoat/adapters"
	"github.com/AshkanYarmoradi/go-stoat/cli/styles"
	"github.com/AshkanYarmoradi/go-stoat/cli/ui"
)

const dataPreviewWidth = 48

// NewStreamCommand creates the stream command
func NewStreamCommand() *cobra.Command {
	var (
		offset   int
		limit    int
		showData bool
	)

	cmd := &cobra.Command{
		Use:   "stream <aggregate-type> <aggregate-id>",
		Short: "Show the envelopes of an aggregate's stream",
		Long: `Show the envelopes stored for one aggregate, oldest first.

Examples:
  stoat stream Account 7b1c...              # First 20 envelopes
  stoat stream Account 7b1c... --offset 20  # Next page
  stoat stream Account 7b1c... --data       # Include payload previews`,
		Aliases: []string{"events"},
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			ctx := cmd.Context()
			streamID := stoat.BuildStreamID(args[0], args[1])

			s, err := newSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.open(ctx); err != nil {
				return err
			}

			info, err := adapters.StreamInfoOf(ctx, s.store, streamID)
			if err != nil {
				if errors.Is(err, adapters.ErrStreamNotFound) {
					return fmt.Errorf("stream %s not found", streamID)
				}
				return err
			}

			page, total, err := adapters.ReadPage(ctx, s.store, streamID, offset, limit)
			if err != nil {
				return err
			}

			fmt.Fprintln(out, styles.Title.Render(styles.IconStream+" "+streamID))
			fmt.Fprintln(out, styles.FormatKeyValue("Aggregate type", info.Category))
			fmt.Fprintln(out, styles.FormatKeyValue("Version", strconv.FormatUint(info.Version, 10)))
			if !info.CreatedAt.IsZero() {
				fmt.Fprintln(out, styles.FormatKeyValue("Created", info.CreatedAt.Format(time.RFC3339)))
				fmt.Fprintln(out, styles.FormatKeyValue("Updated", info.UpdatedAt.Format(time.RFC3339)))
			}
			fmt.Fprintln(out)

			if len(page) == 0 {
				fmt.Fprintln(out, styles.FormatInfo(fmt.Sprintf("No envelopes at offset %d", offset)))
				return nil
			}

			fmt.Fprintln(out, envelopeTable(page, showData).Render())
			fmt.Fprintln(out, styles.Muted.Render(fmt.Sprintf("Showing %d-%d of %d",
				page[0].Sequence, page[len(page)-1].Sequence, total)))
			return nil
		},
	}

	cmd.Flags().IntVar(&offset, "offset", 0, "Skip this many envelopes")
	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "Maximum envelopes to show")
	cmd.Flags().BoolVar(&showData, "data", false, "Show a preview of each payload")

	return cmd
}

func envelopeTable(events []adapters.StoredEvent, showData bool) *ui.Table {
	headers := []string{"Seq", "Type", "Recorded", "User", "Correlation"}
	if showData {
		headers = append(headers, "Data")
	}

	table := ui.NewTable(headers...)
	for _, e := range events {
		row := []string{
			strconv.FormatUint(e.Sequence, 10),
			e.Type,
			e.RecordedAt.UTC().Format(time.DateTime),
			e.UserID,
			e.CorrelationID,
		}
		if showData {
			row = append(row, preview(e.Data))
		}
		table.AddRow(row...)
	}
	return table
}

// preview renders a payload for display. Binary encodings are summarized.
func preview(data []byte) string {
	if !utf8.Valid(data) {
		return fmt.Sprintf("<%d bytes>", len(data))
	}
	r := []rune(string(data))
	if len(r) > dataPreviewWidth {
		return string(r[:dataPreviewWidth-1]) + "…"
	}
	return string(r)
}
