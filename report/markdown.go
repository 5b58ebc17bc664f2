// Package report renders a run summary as Markdown.
package report

import (
	"io"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/aluiziolira/go-fenix-files/models"
	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"
)

// Run collects the phase results of one invocation. Any phase may be nil
// when it did not run.
type Run struct {
	Crawl     *models.CrawlResult
	Downloads *models.DownloadStats
	Organize  *models.OrganizeReport
}

// Write renders run to w.
func Write(w io.Writer, run Run) error {
	md := markdown.NewMarkdown(w)

	md.H1("Fenix Files Run Report")
	md.PlainText("")

	if run.Crawl != nil {
		writeCrawl(md, run.Crawl)
	}
	if run.Downloads != nil {
		writeDownloads(md, run.Downloads)
	}
	if run.Organize != nil {
		writeOrganize(md, run.Organize)
	}

	return md.Build()
}

func writeCrawl(md *markdown.Markdown, res *models.CrawlResult) {
	md.H2("Crawl")
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"State", res.State},
			{"Started", res.StartTime.Format(time.RFC3339)},
			{"Duration", res.EndTime.Sub(res.StartTime).Round(time.Millisecond).String()},
			{"Course pages", strconv.Itoa(res.CoursePages)},
			{"File pages", strconv.Itoa(res.FilePages)},
			{"Download tasks", strconv.Itoa(res.TasksEmitted)},
			{"Discarded links", strconv.Itoa(res.DiscardedLinks)},
			{"Skipped links", strconv.Itoa(res.SkippedLinks)},
			{"Requests", strconv.Itoa(res.RequestCount)},
			{"Errors", strconv.Itoa(res.ErrorCount)},
		},
	})
	md.PlainText("")

	if res.State != "DONE" {
		md.Warningf("Crawl ended in state %q.", res.State)
		md.PlainText("")
	}

	if len(res.ErrorsByType) > 0 {
		md.Table(countTable("Error type", res.ErrorsByType))
		md.PlainText("")
	}
	if len(res.FailedURLs) > 0 {
		md.PlainText("Failed pages:")
		md.PlainText("")
		md.BulletList(res.FailedURLs...)
		md.PlainText("")
	}
}

func writeDownloads(md *markdown.Markdown, stats *models.DownloadStats) {
	md.H2("Downloads")
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Outcome", "Count"},
		Rows: [][]string{
			{"Downloaded", strconv.FormatInt(stats.Downloaded, 10)},
			{"Already staged", strconv.FormatInt(stats.AlreadyStaged, 10)},
			{"Duplicate tasks", strconv.FormatInt(stats.DuplicateTasks, 10)},
			{"Failed", strconv.FormatInt(stats.Failed, 10)},
			{"Bytes", strconv.FormatInt(stats.Bytes, 10)},
		},
	})
	md.PlainText("")

	if stats.Downloaded+stats.AlreadyStaged+stats.Failed > 0 {
		chart := piechart.NewPieChart(
			io.Discard,
			piechart.WithTitle("Download Outcomes"),
			piechart.WithShowData(true),
		)
		if stats.Downloaded > 0 {
			chart.LabelAndIntValue("Downloaded", uint64(stats.Downloaded))
		}
		if stats.AlreadyStaged > 0 {
			chart.LabelAndIntValue("Already staged", uint64(stats.AlreadyStaged))
		}
		if stats.Failed > 0 {
			chart.LabelAndIntValue("Failed", uint64(stats.Failed))
		}
		md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
		md.PlainText("")
	}

	if len(stats.FailuresByKind) > 0 {
		md.Table(countTable("Failure kind", stats.FailuresByKind))
		md.PlainText("")
	}
}

func writeOrganize(md *markdown.Markdown, rep *models.OrganizeReport) {
	md.H2("Organize")
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Outcome", "Count"},
		Rows: [][]string{
			{"Filed", strconv.Itoa(rep.Filed)},
			{"Duplicates", strconv.Itoa(rep.Duplicates)},
			{"Failed", strconv.Itoa(rep.Failed)},
		},
	})
	md.PlainText("")

	if len(rep.FiledPaths) > 0 {
		md.PlainText("Newly filed:")
		md.PlainText("")
		md.BulletList(rep.FiledPaths...)
		md.PlainText("")
	}
	if rep.Failed > 0 {
		md.Cautionf("%d staged file(s) could not be filed: %s", rep.Failed, rep.ErrorSummary())
		md.PlainText("")
	}
}

func countTable(label string, counts map[string]int) markdown.TableSet {
	rows := make([][]string, 0, len(counts))
	for _, key := range slices.Sorted(maps.Keys(counts)) {
		rows = append(rows, []string{key, strconv.Itoa(counts[key])})
	}
	return markdown.TableSet{Header: []string{label, "Count"}, Rows: rows}
}
