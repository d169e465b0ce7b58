package rrdcached

import (
	"strconv"
	"strings"
	"time"

	"github.com/pior/rrdcached/protocol"
)

// InfoEntry is one line of an INFO response: "<key> <type> <value>".
// Type is the numeric rrd_info type (0 value, 1 count, 2 string, 3 int, 4 blob).
type InfoEntry struct {
	Key   string
	Type  int
	Value string
}

// QueueEntry is one file waiting in the daemon's write queue.
type QueueEntry struct {
	File    string
	Updates int
}

// FetchRow is one timestamped row of fetched values, in DSNames order.
type FetchRow struct {
	Time   time.Time
	Values []float64
}

// FetchResult is a parsed FETCH response.
type FetchResult struct {
	Start   time.Time
	End     time.Time
	Step    time.Duration
	DSNames []string
	Rows    []FetchRow
}

// parseStats parses "Name: value" lines. Non numeric values are skipped.
func parseStats(lines []string) (map[string]uint64, error) {
	stats := make(map[string]uint64, len(lines))
	for _, line := range lines {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, &ResultError{Message: "invalid stats line", Line: line}
		}
		n, err := strconv.ParseUint(strings.TrimSpace(value), 10, 64)
		if err != nil {
			continue
		}
		stats[strings.TrimSpace(name)] = n
	}
	return stats, nil
}

func parseInfo(lines []string) ([]InfoEntry, error) {
	entries := make([]InfoEntry, 0, len(lines))
	for _, line := range lines {
		fields := strings.SplitN(line, protocol.Space, 3)
		if len(fields) < 2 {
			return nil, &ResultError{Message: "invalid info line", Line: line}
		}
		typ, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, &ResultError{Message: "invalid info type", Line: line, Err: err}
		}

		entry := InfoEntry{Key: fields[0], Type: typ}
		if len(fields) == 3 {
			entry.Value = fields[2]
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func parseQueue(lines []string) ([]QueueEntry, error) {
	entries := make([]QueueEntry, 0, len(lines))
	for _, line := range lines {
		count, file, ok := strings.Cut(line, protocol.Space)
		if !ok {
			return nil, &ResultError{Message: "invalid queue line", Line: line}
		}
		n, err := strconv.Atoi(count)
		if err != nil {
			return nil, &ResultError{Message: "invalid queue count", Line: line, Err: err}
		}
		entries = append(entries, QueueEntry{File: file, Updates: n})
	}
	return entries, nil
}

// parseTimestamp parses the unix timestamp carried in the message of FIRST
// and LAST responses.
func parseTimestamp(message string) (time.Time, error) {
	sec, err := strconv.ParseInt(strings.TrimSpace(message), 10, 64)
	if err != nil {
		return time.Time{}, &ResultError{Message: "invalid timestamp", Line: message, Err: err}
	}
	return time.Unix(sec, 0), nil
}

// parseFetch parses "Key: value" header lines followed by
// "<timestamp>: <value> <value> ..." rows.
func parseFetch(lines []string) (*FetchResult, error) {
	res := &FetchResult{}

	for _, line := range lines {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, &ResultError{Message: "invalid fetch line", Line: line}
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		if ts, err := strconv.ParseInt(key, 10, 64); err == nil {
			row := FetchRow{Time: time.Unix(ts, 0)}
			for _, field := range strings.Fields(value) {
				v, err := strconv.ParseFloat(field, 64)
				if err != nil {
					return nil, &ResultError{Message: "invalid fetch value", Line: line, Err: err}
				}
				row.Values = append(row.Values, v)
			}
			res.Rows = append(res.Rows, row)
			continue
		}

		switch key {
		case "Start", "End", "Step":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, &ResultError{Message: "invalid fetch header", Line: line, Err: err}
			}
			switch key {
			case "Start":
				res.Start = time.Unix(n, 0)
			case "End":
				res.End = time.Unix(n, 0)
			case "Step":
				res.Step = time.Duration(n) * time.Second
			}
		case "DSName":
			res.DSNames = strings.Fields(value)
		}
	}

	return res, nil
}
