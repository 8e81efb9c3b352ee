package worker

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/scems-network/scems/internal/domain"
)

// SampleDataFile is the meter readings file looked up in the data dir.
const SampleDataFile = "building_energy.csv"

type reading struct {
	at  time.Time
	kwh float64
}

// CSVSource serves daily summaries from a timestamp,building_id,consumption_kwh
// CSV file. The file is read once, on first use. A missing file yields no
// readings rather than an error.
type CSVSource struct {
	path string

	once    sync.Once
	loadErr error
	byKey   map[string][]reading // building_id|YYYY-MM-DD
}

// NewCSVSource reads dir/building_energy.csv.
func NewCSVSource(dir string) *CSVSource {
	return &CSVSource{path: filepath.Join(dir, SampleDataFile)}
}

// DailyConsumption implements domain.ConsumptionSource.
func (s *CSVSource) DailyConsumption(buildingID, date string) (domain.DailyConsumption, bool, error) {
	s.once.Do(s.load)
	if s.loadErr != nil {
		return domain.DailyConsumption{}, false, s.loadErr
	}

	rows := s.byKey[buildingID+"|"+date]
	if len(rows) == 0 {
		return domain.DailyConsumption{}, false, nil
	}
	var sum float64
	peak := rows[0]
	for _, r := range rows {
		sum += r.kwh
		if r.kwh > peak.kwh {
			peak = r
		}
	}
	return domain.DailyConsumption{
		TotalKWh:   sum,
		AverageKWh: sum / float64(len(rows)),
		PeakHour:   peak.at.Hour(),
		Readings:   len(rows),
	}, true, nil
}

func (s *CSVSource) load() {
	s.byKey = make(map[string][]reading)

	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		s.loadErr = fmt.Errorf("open sample data: %w", err)
		return
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err == io.EOF {
		return
	}
	if err != nil {
		s.loadErr = fmt.Errorf("read sample data header: %w", err)
		return
	}
	col := map[string]int{}
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	ts, okTS := col["timestamp"]
	bid, okB := col["building_id"]
	kwh, okK := col["consumption_kwh"]
	if !okTS || !okB || !okK {
		s.loadErr = fmt.Errorf("sample data %s: need timestamp, building_id and consumption_kwh columns", s.path)
		return
	}

	for line := 2; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			return
		}
		if err != nil {
			s.loadErr = fmt.Errorf("sample data line %d: %w", line, err)
			return
		}
		at, err := parseTimestamp(rec[ts])
		if err != nil {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[kwh]), 64)
		if err != nil {
			continue
		}
		key := strings.TrimSpace(rec[bid]) + "|" + at.Format("2006-01-02")
		s.byKey[key] = append(s.byKey[key], reading{at: at, kwh: v})
	}
}

func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}
