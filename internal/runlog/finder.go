package runlog

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alexander-akhmetov/toolctl/internal/dirs"
)

// headSize and tailSize bound how much of a log is read to recover the run
// header and the exit footer.
const (
	headSize = 4 << 10
	tailSize = 1 << 10
)

// Exit reasons written to the footer by Finish.
const (
	ReasonExited  = "exited"
	ReasonStopped = "stopped"
	ReasonError   = "error"
)

// LogFile is a run log on disk together with what its header and footer
// say about the run.
type LogFile struct {
	Path      string
	Tool      string
	Timestamp time.Time
	IsActive  bool // locked by a running toolctl

	RunID string
	// ExitReason is empty while the run is active or when the footer is
	// missing, e.g. after a crash.
	ExitReason string
	ExitCode   int
}

// Finished reports whether the log carries an exit footer.
func (lf LogFile) Finished() bool { return lf.ExitReason != "" }

// Status is a short label for listings: "active", "exit 0", "stopped",
// "error", or "unfinished" for a log whose run ended without a footer.
func (lf LogFile) Status() string {
	switch {
	case lf.IsActive:
		return "active"
	case lf.ExitReason == ReasonExited:
		return "exit " + strconv.Itoa(lf.ExitCode)
	case lf.ExitReason != "":
		return lf.ExitReason
	default:
		return "unfinished"
	}
}

// FindLogs finds run logs whose tool name or run id contains filter,
// case-insensitively. Newest first.
func FindLogs(logsDir, filter string) ([]LogFile, error) {
	if logsDir == "" {
		logsDir = dirs.LogsDir()
	}

	entries, err := os.ReadDir(logsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	filter = strings.ToLower(filter)
	var logs []LogFile
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".log") {
			continue
		}
		lf, ok := parseLogFilename(logsDir, entry.Name())
		if !ok {
			continue
		}
		readRunInfo(&lf)
		if filter != "" &&
			!strings.Contains(strings.ToLower(lf.Tool), filter) &&
			!strings.HasPrefix(strings.ToLower(lf.RunID), filter) {
			continue
		}
		lf.IsActive = isFileLocked(lf.Path)
		logs = append(logs, lf)
	}

	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].Timestamp.Equal(logs[j].Timestamp) {
			return logs[i].Path > logs[j].Path
		}
		return logs[i].Timestamp.After(logs[j].Timestamp)
	})
	return logs, nil
}

// FindLatestLog returns the newest matching log, or nil.
func FindLatestLog(logsDir, filter string) (*LogFile, error) {
	logs, err := FindLogs(logsDir, filter)
	if err != nil || len(logs) == 0 {
		return nil, err
	}
	return &logs[0], nil
}

// parseLogFilename expects YYYYMMDD-HHMMSS-<tool>.log.
func parseLogFilename(dir, name string) (LogFile, bool) {
	base := strings.TrimSuffix(name, ".log")
	if len(base) < len(filenameFormat)+1 || base[len(filenameFormat)] != '-' {
		return LogFile{}, false
	}
	t, err := time.ParseInLocation(filenameFormat, base[:len(filenameFormat)], time.Local)
	if err != nil {
		return LogFile{}, false
	}
	return LogFile{
		Path:      filepath.Join(dir, name),
		Tool:      base[len(filenameFormat)+1:],
		Timestamp: t,
	}, true
}

// readRunInfo fills RunID from the header and the exit fields from the
// footer. Unreadable files are left as they are.
func readRunInfo(lf *LogFile) {
	f, err := os.Open(lf.Path)
	if err != nil {
		return
	}
	defer f.Close()

	head := make([]byte, headSize)
	n, _ := io.ReadFull(f, head)
	head = head[:n]
	// the header ends at the first separator line
	if i := bytes.Index(head, []byte("\n---")); i >= 0 {
		head = head[:i]
	}
	if v, ok := field(head, "Run: "); ok {
		lf.RunID = v
	}

	info, err := f.Stat()
	if err != nil {
		return
	}
	offset := max(info.Size()-tailSize, 0)
	tail := make([]byte, info.Size()-offset)
	if _, err := f.ReadAt(tail, offset); err != nil && err != io.EOF {
		return
	}
	// only the block after the last separator is the footer
	if i := bytes.LastIndex(tail, []byte("\n---")); i >= 0 {
		tail = tail[i:]
	} else if offset > 0 {
		return
	}
	reason, ok := field(tail, "Exit reason: ")
	if !ok {
		return
	}
	lf.ExitReason = reason
	if v, ok := field(tail, "Exit code: "); ok {
		lf.ExitCode, _ = strconv.Atoi(v)
	}
}

// field returns the value of the first line in b starting with prefix.
func field(b []byte, prefix string) (string, bool) {
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		if v, ok := strings.CutPrefix(sc.Text(), prefix); ok {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

func isFileLocked(path string) bool {
	if IsPathLockedByCurrentProcess(path) {
		return true
	}

	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	canLock, err := TryLockFile(f)
	if err != nil {
		return false
	}
	return !canLock
}
