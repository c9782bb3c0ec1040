package report

import (
	"strconv"
	"time"

	"github.com/nicktill/procmem/pkg/resample"
)

// TimeLayout formats the time column.
const TimeLayout = "2006-01-02 15:04:05"

// Column suffixes, in output order.
var candleFields = []string{"open", "high", "low", "close"}

// Table is a header row plus data rows of equal width.
type Table struct {
	Header []string
	Rows   [][]string
}

// Report holds both tables of one aggregation run.
type Report struct {
	Primary Table
	Mapping Table
}

// Options control rendering.
type Options struct {
	// Location renders bucket start times. Defaults to time.Local.
	Location *time.Location
}

// Assemble renders res into the primary and mapping tables. Column and
// mapping order follow res.Series.
func Assemble(res *resample.Result, opts Options) *Report {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}

	header := make([]string, 0, 1+4*len(res.Series))
	header = append(header, "time")
	for _, s := range res.Series {
		for _, f := range candleFields {
			header = append(header, s.Identity.Label+"_"+f)
		}
	}

	rows := make([][]string, len(res.Buckets))
	for i, b := range res.Buckets {
		row := make([]string, 0, len(header))
		row = append(row, b.Start.In(loc).Format(TimeLayout))
		for _, s := range res.Series {
			row = append(row, candleCells(s.At(i))...)
		}
		rows[i] = row
	}

	mapping := make([][]string, len(res.Series))
	for i, s := range res.Series {
		mapping[i] = []string{s.Identity.Label, s.Identity.Command}
	}

	return &Report{
		Primary: Table{Header: header, Rows: rows},
		Mapping: Table{Header: []string{"PID", "COMMAND"}, Rows: mapping},
	}
}

func candleCells(c *resample.Candle) []string {
	if c == nil {
		return []string{"", "", "", ""}
	}
	return []string{
		strconv.FormatInt(c.Open, 10),
		strconv.FormatInt(c.High, 10),
		strconv.FormatInt(c.Low, 10),
		strconv.FormatInt(c.Close, 10),
	}
}
