// Command homecal-query prints calendar queries as JSON or CSV.
//
//	homecal-query -view summary -start 2026-01-01 -end 2026-03-31 -format csv
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"

	"homecal/internal/cli"
	"homecal/internal/config"
	"homecal/internal/core"
	apphttp "homecal/internal/http"
	applog "homecal/internal/log"
	"homecal/internal/services"
)

// Views accepted by -view.
const (
	viewItems    = "items"
	viewMonth    = "month"
	viewCategory = "category"
	viewSummary  = "summary"
)

type options struct {
	view     string
	start    string
	end      string
	category string
	format   string
	file     string
}

func main() {
	var opts options
	flag.StringVar(&opts.view, "view", viewItems, "query to run: items, month, category or summary")
	flag.StringVar(&opts.start, "start", "", "first day to include, YYYY-MM-DD")
	flag.StringVar(&opts.end, "end", "", "last day to include, YYYY-MM-DD")
	flag.StringVar(&opts.category, "category", "", "only include this category id")
	flag.StringVar(&opts.format, "format", formatJSON, "output format: json or csv")
	flag.StringVar(&opts.file, "file", "", "calendar file to read instead of the configured backend")
	flag.Parse()

	if err := run(context.Background(), opts, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "homecal-query:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, out io.Writer) error {
	if err := opts.validate(); err != nil {
		return err
	}

	cli.LoadEnvFile()
	// Logs go to stderr so stdout carries only data.
	logger := applog.New(applog.Config{Level: slog.LevelWarn, Output: os.Stderr})
	applog.SetDefault(logger)

	cfg := config.Load()
	if opts.file != "" {
		cfg.DataBackend = config.BackendMemory
		cfg.CalendarFile = opts.file
	}
	cfg.CacheSize = 0
	if err := cfg.Validate(); err != nil {
		return err
	}

	values := url.Values{}
	for name, v := range map[string]string{"start": opts.start, "end": opts.end} {
		if v != "" {
			values.Set(name, v)
		}
	}
	if opts.category != "" {
		values.Set("category", opts.category)
	}
	f, err := apphttp.ParseFilter(values, cfg.Location())
	if err != nil {
		return err
	}

	cal, err := cli.OpenCalendar(ctx, logger.Logger, cfg, nil)
	if err != nil {
		return err
	}
	defer cal.Close()

	result, err := query(ctx, cal.Service, opts.view, f)
	if err != nil {
		return err
	}
	return write(out, opts.format, result)
}

func (o options) validate() error {
	switch o.view {
	case viewItems, viewMonth, viewCategory, viewSummary:
	default:
		return fmt.Errorf("unknown view %q: want items, month, category or summary", o.view)
	}
	switch o.format {
	case formatJSON, formatCSV:
	default:
		return fmt.Errorf("unknown format %q: want json or csv", o.format)
	}
	return nil
}

func query(ctx context.Context, svc *services.CalendarService, view string, f core.Filter) (any, error) {
	switch view {
	case viewMonth:
		return svc.ByMonth(ctx, f)
	case viewCategory:
		return svc.ByCategory(ctx, f)
	case viewSummary:
		return svc.Summary(ctx, f)
	default:
		return svc.Items(ctx, f)
	}
}
