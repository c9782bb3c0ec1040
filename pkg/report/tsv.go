package report

import (
	"bufio"
	"io"
	"strings"
)

// cellReplacer keeps one record per line and one cell per column.
var cellReplacer = strings.NewReplacer("\t", " ", "\r\n", " ", "\n", " ", "\r", " ")

// WriteTSV writes t as tab-separated lines. Cells are written verbatim except
// that embedded tabs and line breaks become spaces.
func WriteTSV(w io.Writer, t Table) error {
	bw := bufio.NewWriter(w)
	if err := writeRecord(bw, t.Header); err != nil {
		return err
	}
	for _, row := range t.Rows {
		if err := writeRecord(bw, row); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func writeRecord(w *bufio.Writer, cells []string) error {
	for i, c := range cells {
		if i > 0 {
			if err := w.WriteByte('\t'); err != nil {
				return err
			}
		}
		if _, err := cellReplacer.WriteString(w, c); err != nil {
			return err
		}
	}
	return w.WriteByte('\n')
}
