package source

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/banshee-data/coldwatch/internal/engine"
	"github.com/banshee-data/coldwatch/internal/monitoring"
)

// LoadCSV imports a local recording with `unix_time` and `temperature`
// columns as a historical batch attributed to the synthetic device
// "local_file", matching the vendor event shape.
func LoadCSV(path string) (Batch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseCSV(f)
}

func parseCSV(r io.Reader) (Batch, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	timeCol, tempCol := -1, -1
	for i, name := range header {
		switch name {
		case "unix_time":
			timeCol = i
		case "temperature":
			tempCol = i
		}
	}
	if timeCol < 0 || tempCol < 0 {
		return nil, fmt.Errorf("csv must have columns 'unix_time' and 'temperature', got %v", header)
	}

	var batch Batch
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}

		ux, err := strconv.ParseFloat(row[timeCol], 64)
		if err != nil {
			return nil, fmt.Errorf("csv line %d: bad unix_time %q", line, row[timeCol])
		}
		temp, err := strconv.ParseFloat(row[tempCol], 64)
		if err != nil {
			return nil, fmt.Errorf("csv line %d: bad temperature %q", line, row[tempCol])
		}

		ts := time.Unix(int64(ux), 0).UTC()
		batch = append(batch, engine.RawRecord{
			TargetName: "local_file",
			Data: engine.RawData{
				Temperature: &engine.TemperatureSample{
					Value:      &temp,
					UpdateTime: ts.Format(time.RFC3339),
				},
			},
		})
	}
	return batch, nil
}

// RecordedEntry is one line of a JSONL run recording: which input path a raw
// record arrived on, in arrival order.
type RecordedEntry struct {
	Source engine.Source    `json:"source"`
	Record engine.RawRecord `json:"record"`
}

// ReadRecording loads a JSONL run recording.
func ReadRecording(path string) ([]RecordedEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []RecordedEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var entry RecordedEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return nil, fmt.Errorf("recording line %d: %w", line, err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// WriteRecording writes entries as JSONL, one record per line.
func WriteRecording(w io.Writer, entries []RecordedEntry) error {
	enc := json.NewEncoder(w)
	for _, entry := range entries {
		if err := enc.Encode(entry); err != nil {
			return err
		}
	}
	return nil
}

// Recorder appends raw records to a JSONL session recording as they arrive.
// Safe for concurrent use by the backfill and live goroutines.
type Recorder struct {
	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder
}

// NewRecorder creates (truncating) a session recording at path.
func NewRecorder(path string) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &Recorder{f: f, enc: json.NewEncoder(f)}, nil
}

// Record appends one raw record. Write failures are logged, not returned: a
// broken recording never takes down the session it documents.
func (r *Recorder) Record(src engine.Source, rec engine.RawRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enc.Encode(RecordedEntry{Source: src, Record: rec}); err != nil {
		monitoring.Logf("recorder: dropping entry: %v", err)
	}
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.f.Close()
}

// Split partitions a recording into its historical batch and live sequence,
// preserving arrival order within each.
func Split(entries []RecordedEntry) (historical, live Batch) {
	for _, entry := range entries {
		if entry.Source == engine.SourceLive {
			live = append(live, entry.Record)
		} else {
			historical = append(historical, entry.Record)
		}
	}
	return historical, live
}
