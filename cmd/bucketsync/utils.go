package main

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/openmined/bucketsync/internal/sync"
)

var (
	red   = color.New(color.FgHiRed).SprintFunc()
	green = color.New(color.FgHiGreen).SprintFunc()
	cyan  = color.New(color.FgHiCyan).SprintFunc()
	gray  = color.New(color.FgHiBlack).SprintFunc()
)

// printPlan lists every planned action, one path per line.
func printPlan(w io.Writer, plan *sync.SyncPlan) {
	if plan.IsInSync() {
		fmt.Fprintln(w, green("in sync"))
	} else {
		fmt.Fprintln(w, cyan(plan.Summary()))
	}

	for _, r := range plan.ToUpload {
		fmt.Fprintf(w, "%s %s %s\n", green(sync.UploadSymbol), r.Path, gray(humanize.IBytes(uint64(r.Size))))
	}
	for _, r := range plan.ToDownload {
		fmt.Fprintf(w, "%s %s %s\n", cyan(sync.DownloadSymbol), r.Path, gray(humanize.IBytes(uint64(r.Size))))
	}
	for _, r := range plan.ToDelete {
		fmt.Fprintf(w, "%s %s %s\n", red(sync.DeleteSymbol), r.Meta().Path, gray(string(r.Origin())))
	}
	for _, s := range plan.Skipped {
		fmt.Fprintf(w, "%s %s %s\n", gray("-"), s.Path, gray(fmt.Sprintf("skipped, %s", s.Reason)))
	}
}

func printResult(w io.Writer, result *sync.ExecuteResult) {
	fmt.Fprintf(w, "%s %d %s %d %s %d in %s\n",
		green(sync.UploadSymbol), len(result.Uploaded),
		cyan(sync.DownloadSymbol), len(result.Downloaded),
		red(sync.DeleteSymbol), len(result.Deleted),
		result.Duration.Round(time.Millisecond),
	)
	for _, s := range result.Skipped {
		fmt.Fprintf(w, "%s %s %s\n", gray("-"), s.Path, gray(fmt.Sprintf("skipped, %s", s.Reason)))
	}
}
