package engine

import (
	"errors"
	"testing"
	"time"
)

func TestNormalize(t *testing.T) {
	value := 3.5
	tests := []struct {
		name    string
		raw     RawRecord
		want    Reading
		wantErr bool
	}{
		{
			name: "vendor RFC3339",
			raw: RawRecord{
				TargetName: "projects/p1/devices/bjei3c2jhh8g",
				Data:       RawData{Temperature: &TemperatureSample{Value: &value, UpdateTime: "2024-03-01T12:00:00Z"}},
			},
			want: Reading{
				SensorID:    "bjei3c2jhh8g",
				Timestamp:   time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
				Temperature: 3.5,
				Source:      SourceLive,
			},
		},
		{
			name: "fractional seconds and offset",
			raw: RawRecord{
				TargetName: "projects/p1/devices/bjei3c2jhh8g",
				Data:       RawData{Temperature: &TemperatureSample{Value: &value, UpdateTime: "2024-03-01T13:00:00.123456+01:00"}},
			},
			want: Reading{
				SensorID:    "bjei3c2jhh8g",
				Timestamp:   time.Date(2024, 3, 1, 12, 0, 0, 123456000, time.UTC),
				Temperature: 3.5,
				Source:      SourceLive,
			},
		},
		{
			name: "unix seconds from a local recording",
			raw: RawRecord{
				TargetName: "local_file",
				Data:       RawData{Temperature: &TemperatureSample{Value: &value, UpdateTime: "1709294400"}},
			},
			want: Reading{
				SensorID:    "local_file",
				Timestamp:   time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
				Temperature: 3.5,
				Source:      SourceLive,
			},
		},
		{
			name:    "missing targetName",
			raw:     RawRecord{Data: RawData{Temperature: &TemperatureSample{Value: &value, UpdateTime: "2024-03-01T12:00:00Z"}}},
			wantErr: true,
		},
		{
			name:    "no temperature payload",
			raw:     RawRecord{TargetName: "projects/p1/devices/x"},
			wantErr: true,
		},
		{
			name: "missing value",
			raw: RawRecord{
				TargetName: "projects/p1/devices/x",
				Data:       RawData{Temperature: &TemperatureSample{UpdateTime: "2024-03-01T12:00:00Z"}},
			},
			wantErr: true,
		},
		{
			name: "missing updateTime",
			raw: RawRecord{
				TargetName: "projects/p1/devices/x",
				Data:       RawData{Temperature: &TemperatureSample{Value: &value}},
			},
			wantErr: true,
		},
		{
			name: "unparsable timestamp",
			raw: RawRecord{
				TargetName: "projects/p1/devices/x",
				Data:       RawData{Temperature: &TemperatureSample{Value: &value, UpdateTime: "last tuesday"}},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.raw, SourceLive)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got none")
				}
				if !errors.Is(err, ErrMalformedRecord) {
					t.Errorf("error %v is not ErrMalformedRecord", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Normalize: %v", err)
			}
			if got.SensorID != tt.want.SensorID {
				t.Errorf("SensorID = %q, want %q", got.SensorID, tt.want.SensorID)
			}
			if !got.Timestamp.Equal(tt.want.Timestamp) {
				t.Errorf("Timestamp = %v, want %v", got.Timestamp, tt.want.Timestamp)
			}
			if got.Temperature != tt.want.Temperature {
				t.Errorf("Temperature = %v, want %v", got.Temperature, tt.want.Temperature)
			}
			if got.Source != tt.want.Source {
				t.Errorf("Source = %v, want %v", got.Source, tt.want.Source)
			}
		})
	}
}

func TestNormalizePreservesUTC(t *testing.T) {
	value := -18.2
	raw := RawRecord{
		TargetName: "projects/p1/devices/deep_freeze",
		Data:       RawData{Temperature: &TemperatureSample{Value: &value, UpdateTime: "2024-06-15T08:30:00-07:00"}},
	}
	got, err := Normalize(raw, SourceHistorical)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if got.Timestamp.Location() != time.UTC {
		t.Errorf("Timestamp location = %v, want UTC", got.Timestamp.Location())
	}
	if want := time.Date(2024, 6, 15, 15, 30, 0, 0, time.UTC); !got.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", got.Timestamp, want)
	}
}
