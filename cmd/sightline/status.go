package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/banshee-data/sightline.report/internal/httputil"
	"github.com/banshee-data/sightline.report/internal/vision/monitor"
)

// runStatus handles the 'status' subcommand: it fetches /api/stats from a
// running instance and prints a summary.
func runStatus(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(out)
	url := fs.String("url", "http://localhost:8080", "Base URL of a running sightline")
	timeout := fs.Duration("timeout", 5*time.Second, "Request timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var st monitor.StatsResponse
	if err := httputil.GetJSON(ctx, nil, strings.TrimRight(*url, "/")+"/api/stats", &st); err != nil {
		return err
	}
	return printStatus(out, st)
}

func printStatus(out io.Writer, st monitor.StatsResponse) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "build\t%s\n", st.Build)
	fmt.Fprintf(tw, "uptime\t%s\n", st.Uptime)
	if p := st.Pipeline; p != nil {
		fmt.Fprintf(tw, "queue\t%d/%d\n", p.QueueDepth, p.QueueCapacity)
		fmt.Fprintf(tw, "frames\tsubmitted=%d processed=%d dropped=%d discarded=%d\n",
			p.Submitted, p.Processed, p.Dropped, p.Discarded)
		fmt.Fprintf(tw, "saves\tsaved=%d failed=%d vetoed=%d\n", p.Saved, p.SaveFailures, p.SavesVetoed)
		fmt.Fprintf(tw, "scenes\tnew=%d recognized=%d\n", p.ScenesNew, p.ScenesRecognized)
		fmt.Fprintf(tw, "burst\t%t\n", p.BurstActive)
	}
	if p := st.Perf; p != nil {
		fmt.Fprintf(tw, "fps\t%.2f\n", p.FPS)
		fmt.Fprintf(tw, "avg processing\t%.1fms\n", p.AvgProcessingMs)
	}
	if a := st.Advisory; a != nil {
		fmt.Fprintf(tw, "advisory\t%s %s\n", a.Level, strings.Join(a.Reasons, "; "))
	}
	return tw.Flush()
}
