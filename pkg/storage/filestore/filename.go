package filestore

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nicktill/procmem/pkg/storage"
)

// Snapshot files are named memory_YYYYMMDD_HHMMSS[-N].json with the capture
// time in UTC. N distinguishes snapshots captured within the same second:
// absent for the first, then 1, 2, ... in creation order.
const (
	filePrefix   = "memory_"
	fileExt      = ".json"
	stampLayout  = "20060102_150405"
	seqSeparator = "-"
	tempPattern  = ".memory_*.tmp"
)

var errNotSnapshotFile = errors.New("not a snapshot file name")

// FileName encodes a capture time and same-second sequence as a file name.
func FileName(capturedAt time.Time, seq int) string {
	stamp := capturedAt.UTC().Format(stampLayout)
	if seq <= 0 {
		return filePrefix + stamp + fileExt
	}
	return filePrefix + stamp + seqSeparator + strconv.Itoa(seq) + fileExt
}

// ParseFileName decodes a snapshot file name into a Ref.
func ParseFileName(name string) (storage.Ref, error) {
	if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileExt) {
		return storage.Ref{}, errNotSnapshotFile
	}
	body := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileExt)

	stamp, seqPart, hasSeq := strings.Cut(body, seqSeparator)
	if len(stamp) != len(stampLayout) {
		return storage.Ref{}, errNotSnapshotFile
	}
	ts, err := time.ParseInLocation(stampLayout, stamp, time.UTC)
	if err != nil {
		return storage.Ref{}, fmt.Errorf("%w: %v", errNotSnapshotFile, err)
	}

	seq := 0
	if hasSeq {
		seq, err = strconv.Atoi(seqPart)
		if err != nil || seq <= 0 || strconv.Itoa(seq) != seqPart {
			return storage.Ref{}, errNotSnapshotFile
		}
	}

	return storage.Ref{Name: name, CapturedAt: ts, Seq: seq}, nil
}
