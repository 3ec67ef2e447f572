package pipeline

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
)

// Summary is the end-of-run report.
type Summary struct {
	RunID           string
	DryRun          bool
	Sources         []Stats
	IndexSize       int
	IndexCollisions int
	Elapsed         time.Duration
}

func (s Summary) rows() []Stats {
	rows := make([]Stats, 0, len(s.Sources)+1)
	rows = append(rows, s.Sources...)
	return append(rows, Total(s.Sources))
}

// Log emits one event per source plus a totals event.
func (s Summary) Log(logger zerolog.Logger) {
	for _, st := range s.rows() {
		logger.Info().
			Str("run_id", s.RunID).
			Bool("dry_run", s.DryRun).
			Str("source", st.Source).
			Int("read", st.Read()).
			Int("matched", st.Matched).
			Int("matched_exact", st.ExactMatched+st.LooseMatched).
			Int("matched_spatial", st.SpatialMatched).
			Int("skipped", st.Skipped).
			Int("duplicate", st.Duplicate).
			Int("listings_inserted", st.ListingsInserted).
			Int("price_history_inserted", st.PriceHistoryInserted).
			Int("errors", st.Errors).
			Bool("complete", st.Done).
			Msg("summary")
	}
	logger.Info().
		Str("run_id", s.RunID).
		Int("index_size", s.IndexSize).
		Int("index_collisions", s.IndexCollisions).
		Dur("elapsed", s.Elapsed).
		Msg("run finished")
}

// Write renders the summary as an aligned table.
func (s Summary) Write(w io.Writer) error {
	mode := "live"
	if s.DryRun {
		mode = "dry-run"
	}
	if _, err := fmt.Fprintf(w, "\nImport summary (run %s, %s)\n", s.RunID, mode); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "source\tread\tmatched\texact\tspatial\tskipped\tduplicate\tlistings\tprice history\terrors\t")
	for _, st := range s.rows() {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t\n",
			st.Source, st.Read(), st.Matched, st.ExactMatched+st.LooseMatched, st.SpatialMatched,
			st.Skipped, st.Duplicate, st.ListingsInserted, st.PriceHistoryInserted, st.Errors)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "\nindex entries: %d (collisions: %d)\nelapsed: %s\n",
		s.IndexSize, s.IndexCollisions, s.Elapsed.Round(time.Millisecond))
	return err
}
