package source

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/coldwatch/internal/engine"
)

func writeFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0o644)
}

func TestParseCSV(t *testing.T) {
	csvData := `unix_time,temperature
1709294400,3.5
1709294700,3.7
1709295000,-18.0
`
	batch, err := parseCSV(strings.NewReader(csvData))
	if err != nil {
		t.Fatalf("parseCSV: %v", err)
	}
	if len(batch) != 3 {
		t.Fatalf("parsed %d records, want 3", len(batch))
	}

	r, err := engine.Normalize(batch[0], engine.SourceHistorical)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if r.SensorID != "local_file" {
		t.Errorf("SensorID = %q, want local_file", r.SensorID)
	}
	if want := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC); !r.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", r.Timestamp, want)
	}
	if r.Temperature != 3.5 {
		t.Errorf("Temperature = %v, want 3.5", r.Temperature)
	}
}

func TestParseCSVRejectsMissingColumns(t *testing.T) {
	if _, err := parseCSV(strings.NewReader("time,value\n1,2\n")); err == nil {
		t.Fatal("expected error for missing columns")
	}
}

func TestParseCSVRejectsBadValues(t *testing.T) {
	tests := []string{
		"unix_time,temperature\nnotatime,3.5\n",
		"unix_time,temperature\n1709294400,warm\n",
	}
	for _, csvData := range tests {
		if _, err := parseCSV(strings.NewReader(csvData)); err == nil {
			t.Errorf("expected error for %q", csvData)
		}
	}
}

func TestRecordingRoundTrip(t *testing.T) {
	v1, v2 := 3.5, 9.1
	entries := []RecordedEntry{
		{Source: engine.SourceHistorical, Record: engine.RawRecord{
			TargetName: "projects/p1/devices/freezer_1",
			Data:       engine.RawData{Temperature: &engine.TemperatureSample{Value: &v1, UpdateTime: "2024-03-01T12:00:00Z"}},
		}},
		{Source: engine.SourceLive, Record: engine.RawRecord{
			TargetName: "projects/p1/devices/freezer_1",
			Data:       engine.RawData{Temperature: &engine.TemperatureSample{Value: &v2, UpdateTime: "2024-03-01T12:05:00Z"}},
		}},
	}

	var buf bytes.Buffer
	if err := WriteRecording(&buf, entries); err != nil {
		t.Fatalf("WriteRecording: %v", err)
	}

	path := t.TempDir() + "/run.jsonl"
	if err := writeFile(path, buf.Bytes()); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := ReadRecording(path)
	if err != nil {
		t.Fatalf("ReadRecording: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("read %d entries, want 2", len(got))
	}
	if got[0].Source != engine.SourceHistorical || got[1].Source != engine.SourceLive {
		t.Errorf("sources not preserved: %+v", got)
	}

	historical, live := Split(got)
	if len(historical) != 1 || len(live) != 1 {
		t.Errorf("Split = %d historical / %d live, want 1/1", len(historical), len(live))
	}
	if *live[0].Data.Temperature.Value != 9.1 {
		t.Errorf("live value = %v, want 9.1", *live[0].Data.Temperature.Value)
	}
}

func TestRecorderAppendsEntries(t *testing.T) {
	path := t.TempDir() + "/session.jsonl"
	rec, err := NewRecorder(path)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}

	v := 4.2
	raw := engine.RawRecord{
		TargetName: "projects/p1/devices/freezer_1",
		Data:       engine.RawData{Temperature: &engine.TemperatureSample{Value: &v, UpdateTime: "2024-03-01T12:00:00Z"}},
	}
	rec.Record(engine.SourceHistorical, raw)
	rec.Record(engine.SourceLive, raw)
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, err := ReadRecording(path)
	if err != nil {
		t.Fatalf("ReadRecording: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("read %d entries, want 2", len(got))
	}
	if got[0].Source != engine.SourceHistorical || got[1].Source != engine.SourceLive {
		t.Errorf("sources not preserved: %+v", got)
	}
}
