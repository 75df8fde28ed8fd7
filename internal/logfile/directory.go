package logfile

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/mvaleed/sluice/internal/replay"
)

const logSuffix = ".log"

// logName is a zero-padded numeric filename, encoding a fileID.
// Grounded on brook's internal/storage/partition.go logName type.
type logName string

func newLogNameFromID(id uint32) logName {
	return logName(fmt.Sprintf("%020d%s", id, logSuffix))
}

func (ln logName) fileID() (uint32, error) {
	trimmed := strings.TrimSuffix(string(ln), logSuffix)
	n, err := strconv.ParseUint(trimmed, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("logfile: malformed log filename %q: %w", string(ln), err)
	}
	return uint32(n), nil
}

// entry is one discovered log file.
type entry struct {
	FileID uint32
	path   string
}

// ScanDirectories walks each directory in dirs, collects every
// *.log file, and returns them ordered by ascending fileID. This is
// the enumeration step spec.md §2 describes ("a driver... enumerates
// the log directories, hands the list of log files to the
// ReplayEngine"), generalized to more than one directory per
// SPEC_FULL.md §9's multi-directory supplement.
func ScanDirectories(dirs []string) ([]entry, error) {
	var entries []entry
	for _, dir := range dirs {
		files, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("logfile: read dir %s: %w", dir, err)
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), logSuffix) {
				continue
			}
			id, err := logName(f.Name()).fileID()
			if err != nil {
				return nil, err
			}
			entries = append(entries, entry{FileID: id, path: filepath.Join(dir, f.Name())})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].FileID < entries[j].FileID })
	return entries, nil
}

// OpenReaders opens a Reader for every log file found in dirs, in
// ascending fileID order. On any open failure, readers already opened
// are closed before the error is returned.
func OpenReaders(dirs []string) ([]replay.LogReader, error) {
	entries, err := ScanDirectories(dirs)
	if err != nil {
		return nil, err
	}
	return OpenReadersFromEntries(entries)
}

// OpenReadersFromEntries opens a Reader for each entry already
// discovered by ScanDirectories. Splitting this from OpenReaders lets
// a caller inspect the entry list (e.g. to seed the next fileID)
// without scanning the directories twice.
func OpenReadersFromEntries(entries []entry) ([]replay.LogReader, error) {
	readers := make([]replay.LogReader, 0, len(entries))
	for _, e := range entries {
		r, err := OpenReader(e.path, e.FileID)
		if err != nil {
			for _, opened := range readers {
				opened.Close()
			}
			return nil, err
		}
		readers = append(readers, r)
	}
	return readers, nil
}

// DirectorySet round-robins new log files across a fixed set of
// directories, mirroring the original Flume file channel's support
// for multiple data directories (original_source's
// Log.Builder().setLogDirs(dataDirs)). Each new writer is assigned
// the next monotonic fileID and placed in the next directory in
// rotation.
type DirectorySet struct {
	dirs   []string
	next   uint32
	cursor int
}

// NewDirectorySet returns a set seeded to start assigning fileIDs at
// startFileID (typically one past the highest fileID already on
// disk).
func NewDirectorySet(dirs []string, startFileID uint32) (*DirectorySet, error) {
	if len(dirs) == 0 {
		return nil, fmt.Errorf("logfile: at least one log directory is required")
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("logfile: create dir %s: %w", d, err)
		}
	}
	return &DirectorySet{dirs: dirs, next: startFileID}, nil
}

// NextPath reserves the next fileID and returns its path in whichever
// directory is next in rotation.
func (d *DirectorySet) NextPath() (uint32, string) {
	id := atomic.AddUint32(&d.next, 1) - 1
	dir := d.dirs[d.cursor%len(d.dirs)]
	d.cursor++
	return id, filepath.Join(dir, string(newLogNameFromID(id)))
}

// Dirs returns the directories in rotation order.
func (d *DirectorySet) Dirs() []string {
	return append([]string(nil), d.dirs...)
}
