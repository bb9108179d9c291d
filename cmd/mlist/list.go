package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nhle/mlist/internal/cache"
	"github.com/nhle/mlist/internal/folder"
	"github.com/nhle/mlist/internal/model"
	"github.com/nhle/mlist/internal/sorting"
)

type listOptions struct {
	offline bool
	archive bool
	order   []string
	reverse bool
	threads string
	limit   int
	timeout time.Duration
}

func listCmd(e *env) *cobra.Command {
	var o listOptions

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print the folder listing",
		Long: `Print the headers of the selected mailbox in listing order.

Sorting and threading default to the config file; flags override them
for this run only.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.apply(e.cfg, cmd); err != nil {
				return err
			}
			return runList(cmd.Context(), e, &o, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&o.offline, "offline", false, "Read headers from the local cache instead of the server")
	cmd.Flags().BoolVar(&o.archive, "archive", false, "Store retrieved headers in the local cache")
	cmd.Flags().StringSliceVar(&o.order, "sort", nil, `Sort criteria, most significant first (e.g. "status,date-rev")`)
	cmd.Flags().BoolVarP(&o.reverse, "reverse", "r", false, "Reverse the listing")
	cmd.Flags().StringVar(&o.threads, "threads", "", `Threading: "on" or "off"`)
	cmd.Flags().IntVarP(&o.limit, "limit", "n", 0, "Print at most n messages (0 = all)")
	cmd.Flags().DurationVar(&o.timeout, "timeout", 2*time.Minute, "Give up retrieving headers after this long")
	return cmd
}

// apply overrides the loaded config with explicitly set flags.
func (o *listOptions) apply(cfg *model.AppConfig, cmd *cobra.Command) error {
	if cmd.Flags().Changed("sort") {
		for _, name := range o.order {
			if _, err := model.ParseSortCriterion(name); err != nil {
				return err
			}
		}
		cfg.Sorting.Order = o.order
	}
	if cmd.Flags().Changed("reverse") {
		cfg.Sorting.Reverse = o.reverse
	}
	switch o.threads {
	case "":
	case "on":
		cfg.Threading.Enabled = true
	case "off":
		cfg.Threading.Enabled = false
	default:
		return fmt.Errorf("--threads must be on or off, got %q", o.threads)
	}
	return nil
}

func runList(ctx context.Context, e *env, o *listOptions, w io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	of, err := e.openFolder(ctx, o.offline, o.archive && !o.offline)
	if err != nil {
		return err
	}
	defer of.Close()

	return writeListing(ctx, e.log, of.folder, o.limit, w)
}

// writeListing prints the first limit messages of f (all if limit is 0).
// Messages whose headers could not be retrieved are printed as
// placeholder rows.
func writeListing(ctx context.Context, log zerolog.Logger, f *folder.Folder, limit int, w io.Writer) error {
	n := f.Count()
	if limit > 0 {
		n = min(n, uint32(limit))
	}

	positions := make([]uint32, n)
	for i := range positions {
		positions[i] = uint32(i)
	}
	f.CacheRange(positions)
	if err := waitForPositions(ctx, f, positions); err != nil {
		if ctx.Err() != nil {
			return err
		}
		log.Warn().Err(err).Msg("some headers could not be retrieved")
		f.PumpPending()
	}

	sp := f.Index().SortParams()
	unavailable := 0
	for _, p := range positions {
		h, err := f.RecordAtPosition(p)
		switch {
		case errors.Is(err, cache.ErrNotCached):
			unavailable++
			fmt.Fprintf(w, "%5d  (unavailable)\n", h.SeqNum)
			continue
		case err != nil:
			return fmt.Errorf("message at %d: %w", p, err)
		}
		fmt.Fprintln(w, formatLine(&h, f.GetIndentation(p), sp))
	}
	log.Debug().
		Uint32("printed", n).
		Int("unavailable", unavailable).
		Uint32("total", f.Count()).
		Msg("listing done")
	return nil
}

// waitForPositions applies folder work until the given positions are
// cached. Under sorting or threading that means every header. It stops
// at the first failed batch.
func waitForPositions(ctx context.Context, f *folder.Folder, positions []uint32) error {
	if f.Index().NeedsAllRecords() {
		return waitComplete(ctx, f)
	}
	for {
		missing := false
		for _, p := range positions {
			if _, err := f.RecordAtPosition(p); err != nil {
				missing = true
				break
			}
		}
		if !missing {
			return nil
		}
		if st := f.FetchStatus(); st.Error != nil {
			return st.Error
		}
		if f.PumpPending() > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func formatLine(h *model.Header, indent uint32, sp model.SortParams) string {
	sender, kind := sorting.FromOrTo(h, sp.DetectOwnAddresses, sp.OwnAddresses)
	if kind == model.KindTo || kind == model.KindNewsgroup {
		sender = "To: " + sender
	}
	tree := ""
	if indent > 0 {
		tree = strings.Repeat("  ", int(indent-1)) + "`-"
	}
	return fmt.Sprintf("%5d  %-4s %-14s %s %s%s",
		h.SeqNum,
		h.Status.String(),
		humanize.Time(h.Date),
		runewidth.FillRight(runewidth.Truncate(sender, 24, "…"), 24),
		tree,
		h.Subject,
	)
}
