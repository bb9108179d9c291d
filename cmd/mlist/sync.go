package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/nhle/mlist/internal/model"
	"github.com/nhle/mlist/internal/store"
)

const defaultSyncBatch = 500

func syncCmd(e *env) *cobra.Command {
	var (
		batch  int
		status bool
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Copy the mailbox headers into the local cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if status {
				return runSyncStatus(cmd.Context(), e, cmd.OutOrStdout())
			}
			if batch <= 0 {
				return fmt.Errorf("--batch must be positive")
			}
			return runSync(cmd.Context(), e, uint32(batch), cmd.OutOrStdout())
		},
	}

	cmd.Flags().IntVar(&batch, "batch", defaultSyncBatch, "Headers per fetch")
	cmd.Flags().BoolVar(&status, "status", false, "Show the last sync instead of syncing")
	return cmd
}

func runSync(ctx context.Context, e *env, batch uint32, w io.Writer) (err error) {
	acct, err := e.account()
	if err != nil {
		return err
	}
	s, err := e.openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	src, err := e.imapSource(acct)
	if err != nil {
		return err
	}
	defer src.Close()

	key := folderKey(acct)
	log := e.log.With().Str("folder", key).Logger()
	run := store.SyncRun{Folder: key, StartedAt: time.Now()}
	defer func() {
		run.FinishedAt = time.Now()
		if err != nil {
			run.Error = err.Error()
		}
		if _, rerr := s.RecordSyncRun(context.WithoutCancel(ctx), run); rerr != nil {
			log.Warn().Err(rerr).Msg("recording sync run failed")
		}
	}()

	count, err := src.Open(ctx)
	if err != nil {
		return err
	}

	headers := make([]model.Header, 0, count)
	for from := uint32(1); from <= count; from += batch {
		to := min(from+batch-1, count)
		hs, err := src.FetchRange(ctx, from, to)
		if err != nil {
			return err
		}
		headers = append(headers, hs...)
		run.Fetched = len(headers)
		log.Debug().Uint32("from", from).Uint32("to", to).Msg("batch synced")
	}

	if err := s.ReplaceFolder(ctx, key, headers); err != nil {
		return err
	}
	log.Info().Int("headers", len(headers)).Dur("took", time.Since(run.StartedAt)).Msg("sync finished")
	fmt.Fprintf(w, "Synced %d headers of %s\n", len(headers), key)
	return nil
}

func runSyncStatus(ctx context.Context, e *env, w io.Writer) error {
	acct, err := e.account()
	if err != nil {
		return err
	}
	s, err := e.openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	key := folderKey(acct)
	run, err := s.LastSyncRun(ctx, key)
	if err != nil {
		return err
	}
	if run == nil {
		fmt.Fprintf(w, "%s has never been synced\n", key)
		return nil
	}

	count, err := s.CountHeaders(ctx, key)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s: last sync %s, %d headers fetched, %d cached\n",
		key, humanize.Time(run.FinishedAt), run.Fetched, count)
	if run.Error != "" {
		fmt.Fprintf(w, "  failed: %s\n", run.Error)
	}
	return nil
}
