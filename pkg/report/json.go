package report

import (
	"io"
	"time"

	"github.com/goccy/go-json"

	"github.com/nicktill/procmem/pkg/resample"
)

// Document is the JSON rendering of a run.
type Document struct {
	Metadata   Metadata       `json:"metadata"`
	Identities []IdentityJSON `json:"identities"`
	Rows       []RowJSON      `json:"rows"`
}

// Metadata describes the run that produced a document.
type Metadata struct {
	GeneratedAt     time.Time `json:"generated_at"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	IntervalMinutes int       `json:"interval_minutes"`
	FilesRead       int       `json:"files_read"`
	FilesSkipped    int       `json:"files_skipped"`
}

// IdentityJSON is one column of the report.
type IdentityJSON struct {
	Label   string `json:"label"`
	PID     int    `json:"pid"`
	Command string `json:"command"`
}

// RowJSON is one bucket. Candles align with Document.Identities; a null
// entry means no observation.
type RowJSON struct {
	Time    time.Time     `json:"time"`
	Candles []*CandleJSON `json:"candles"`
}

// CandleJSON is one OHLC cell.
type CandleJSON struct {
	Open  int64 `json:"open"`
	High  int64 `json:"high"`
	Low   int64 `json:"low"`
	Close int64 `json:"close"`
	Count int   `json:"count"`
}

// NewDocument converts res into its JSON form.
func NewDocument(res *resample.Result, req resample.Request, generatedAt time.Time) *Document {
	doc := &Document{
		Metadata: Metadata{
			GeneratedAt:     generatedAt,
			Start:           req.Start,
			End:             req.End,
			IntervalMinutes: req.WidthMinutes,
			FilesRead:       res.Stats.FilesRead,
			FilesSkipped:    res.Stats.Skipped(),
		},
		Identities: make([]IdentityJSON, len(res.Series)),
		Rows:       make([]RowJSON, len(res.Buckets)),
	}

	for i, s := range res.Series {
		doc.Identities[i] = IdentityJSON{Label: s.Identity.Label, PID: s.Identity.PID, Command: s.Identity.Command}
	}
	for i, b := range res.Buckets {
		row := RowJSON{Time: b.Start, Candles: make([]*CandleJSON, len(res.Series))}
		for j, s := range res.Series {
			if c := s.At(i); c != nil {
				row.Candles[j] = &CandleJSON{Open: c.Open, High: c.High, Low: c.Low, Close: c.Close, Count: c.Count}
			}
		}
		doc.Rows[i] = row
	}
	return doc
}

// WriteJSON writes doc as indented JSON.
func WriteJSON(w io.Writer, doc *Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
