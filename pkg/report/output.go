package report

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/nicktill/procmem/pkg/fsutil"
	"github.com/nicktill/procmem/pkg/resample"
)

// Supported output formats.
const (
	FormatTSV  = "tsv"
	FormatJSON = "json"
)

const (
	tsvExt        = ".tsv"
	jsonExt       = ".json"
	mappingSuffix = "_pid_mapping"
	fileMode      = 0644
)

// Paths returns the files a report for output would be written to.
// The extension of the format is appended if output lacks it.
func Paths(output, format string) ([]string, error) {
	switch format {
	case FormatTSV, "":
		base := strings.TrimSuffix(output, tsvExt)
		return []string{base + tsvExt, base + mappingSuffix + tsvExt}, nil
	case FormatJSON:
		return []string{strings.TrimSuffix(output, jsonExt) + jsonExt}, nil
	default:
		return nil, fmt.Errorf("unsupported report format %q", format)
	}
}

// Write renders res in format and atomically writes every file of the
// report. If any file fails, files already written by this call are removed.
// It returns the paths written.
func Write(res *resample.Result, req resample.Request, output, format string) ([]string, error) {
	paths, err := Paths(output, format)
	if err != nil {
		return nil, err
	}

	var contents [][]byte
	switch format {
	case FormatJSON:
		var buf bytes.Buffer
		if err := WriteJSON(&buf, NewDocument(res, req, time.Now())); err != nil {
			return nil, fmt.Errorf("failed to encode report: %w", err)
		}
		contents = [][]byte{buf.Bytes()}
	default:
		rep := Assemble(res, Options{})
		var primary, mapping bytes.Buffer
		if err := WriteTSV(&primary, rep.Primary); err != nil {
			return nil, fmt.Errorf("failed to render report: %w", err)
		}
		if err := WriteTSV(&mapping, rep.Mapping); err != nil {
			return nil, fmt.Errorf("failed to render mapping: %w", err)
		}
		contents = [][]byte{primary.Bytes(), mapping.Bytes()}
	}

	for i, path := range paths {
		if err := fsutil.WriteFile(path, contents[i], fileMode); err != nil {
			for _, written := range paths[:i] {
				os.Remove(written)
			}
			return nil, fmt.Errorf("failed to write %s: %w", path, err)
		}
		log.WithFields(log.Fields{
			"path":  path,
			"bytes": len(contents[i]),
		}).Debug("report file written")
	}
	return paths, nil
}
