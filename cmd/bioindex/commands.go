package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/seqsift/bioindex/bioindex"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list all queryable indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := setup(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "BUILT\tINDEX\tPREFIX\tSCHEMA")
			for _, idx := range app.catalog.Indexes() {
				built := "yes"
				if !idx.Built {
					built = "no"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", built, idx.Name, idx.Prefix, idx.Schema)
			}
			return w.Flush()
		},
	}
}

func newMatchCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "match <index> [terms...]",
		Short: "list the distinct keys matching a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := setup(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			q := bioindex.NewQuery(args[1:]...)
			start := time.Now()
			keys, err := app.executor.Match(cmd.Context(), args[0], q, limit)
			if err != nil {
				return err
			}

			return drainPages(cmd.Context(), app, &bioindex.Continuation{
				Kind:         bioindex.KindKeys,
				Keys:         keys,
				Index:        args[0],
				Query:        q,
				Limit:        limit,
				Page:         1,
				QuerySeconds: time.Since(start).Seconds(),
			}, func(page *bioindex.Page) error {
				for _, key := range page.Data.([]string) {
					fmt.Println(key)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "cap on the total number of keys returned")
	return cmd
}

func newCountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "count <index> [terms...]",
		Short: "estimate how many records a query would return",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := setup(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			count, err := app.executor.Count(cmd.Context(), args[0], bioindex.NewQuery(args[1:]...))
			if err != nil {
				return err
			}
			fmt.Println(count)
			return nil
		},
	}
}

func newQueryCmd() *cobra.Command {
	var (
		limit  int
		format string
	)

	cmd := &cobra.Command{
		Use:   "query <index> <terms...>",
		Short: "stream the records matching a query",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := setup(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			fmtSel, err := bioindex.ParseFormat(format)
			if err != nil {
				return err
			}

			q := bioindex.NewQuery(args[1:]...)
			start := time.Now()
			reader, err := app.executor.Fetch(cmd.Context(), args[0], q, nil)
			if err != nil {
				return err
			}
			if limit > 0 {
				reader.SetLimit(limit)
			}

			return drainPages(cmd.Context(), app, &bioindex.Continuation{
				Kind:         bioindex.KindRecords,
				Reader:       reader,
				Index:        args[0],
				Query:        q,
				Format:       fmtSel,
				Limit:        limit,
				Page:         1,
				QuerySeconds: time.Since(start).Seconds(),
			}, printRecords)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "cap on the total number of records returned")
	cmd.Flags().StringVar(&format, "fmt", "row", "output shape: row or column")
	return cmd
}

func newAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "all <index>",
		Short: "stream every record under an index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := setup(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			start := time.Now()
			reader, err := app.executor.FetchAll(cmd.Context(), args[0], nil)
			if err != nil {
				return err
			}

			return drainPages(cmd.Context(), app, &bioindex.Continuation{
				Kind:         bioindex.KindRecords,
				Reader:       reader,
				Index:        args[0],
				Page:         1,
				QuerySeconds: time.Since(start).Seconds(),
			}, printRecords)
		},
	}
}

// drainPages walks a result through the assembler page by page, redeeming
// each minted continuation, exactly as a stateless caller would.
func drainPages(ctx context.Context, app *app, cont *bioindex.Continuation, emit func(*bioindex.Page) error) error {
	page, err := nextPage(ctx, app, cont)
	if err != nil {
		return err
	}

	for {
		if err := emit(page); err != nil {
			return err
		}
		if page.Continuation == "" {
			return nil
		}
		page, err = app.assembler.Resume(ctx, page.Continuation)
		if err != nil {
			return err
		}
	}
}

func nextPage(ctx context.Context, app *app, cont *bioindex.Continuation) (*bioindex.Page, error) {
	if cont.Kind == bioindex.KindKeys {
		return app.assembler.DrainKeys(ctx, cont)
	}
	return app.assembler.DrainRecords(ctx, cont)
}

func printRecords(page *bioindex.Page) error {
	enc := json.NewEncoder(os.Stdout)
	switch data := page.Data.(type) {
	case []bioindex.Record:
		for _, rec := range data {
			if err := enc.Encode(rec); err != nil {
				return err
			}
		}
		return nil
	default:
		return enc.Encode(data)
	}
}
