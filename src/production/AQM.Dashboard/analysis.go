// Package dashboard derives everything a render pass shows from stored readings:
// freshness, latest metrics, the trend window and the history log.
package dashboard

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	aqmmodels "gitlab.com/maplesense1/aqm.sensor_server/src/production/AQM.Models"
)

const (
	freshnessWindow  = 60 * time.Minute
	standbyLayout    = "2006-01-02 15:04"
	recordedLayout   = "Jan 02, 15:04"
	trendLabelLayout = "15:04:05"
	csvTimeLayout    = "2006-01-02T15:04:05.000Z07:00"
)

// CSVHeader is the first row of every export
var CSVHeader = []string{"timestamp", "co_ppm", "moisture"}

// AirQuality is the band a CO reading falls into
type AirQuality struct {
	Label       string `json:"label"`
	Description string `json:"description"`
	Level       string `json:"level"`
}

var airQualityBands = []struct {
	below int
	band  AirQuality
}{
	{350, AirQuality{Label: "Fresh", Description: "Normal outdoor level", Level: "fresh"}},
	{600, AirQuality{Label: "Good", Description: "Normal indoor level", Level: "good"}},
	{1000, AirQuality{Label: "Poor", Description: "Poor ventilation", Level: "poor"}},
}

// Classify maps a CO concentration to its air quality band. First match wins.
func Classify(ppm int) AirQuality {
	for _, b := range airQualityBands {
		if ppm < b.below {
			return b.band
		}
	}
	return AirQuality{Label: "Danger", Description: "Health Risk: Evacuate", Level: "danger"}
}

// Freshness says whether the sensor is still reporting
type Freshness struct {
	Active      bool      `json:"active"`
	Minutes     int       `json:"minutes"`
	Hours       int       `json:"hours"`
	LastReading time.Time `json:"last_reading"`
	Message     string    `json:"message"`
}

// ComputeFreshness compares the latest reading time against now. Elapsed time is
// truncated to whole minutes or hours.
func ComputeFreshness(latest, now time.Time, loc *time.Location) Freshness {
	elapsed := now.Sub(latest)
	if elapsed < 0 {
		elapsed = 0
	}

	f := Freshness{LastReading: latest.In(loc)}
	if elapsed < freshnessWindow {
		f.Active = true
		f.Minutes = int(elapsed / time.Minute)
		f.Message = fmt.Sprintf("System Active: Last reading received %d minutes ago.", f.Minutes)
		return f
	}

	f.Hours = int(elapsed / time.Hour)
	f.Message = fmt.Sprintf("Standby Mode: Last reading was %d hours ago (%s).",
		f.Hours, f.LastReading.Format(standbyLayout))
	return f
}

// Metrics are the headline figures for the latest reading
type Metrics struct {
	COLevel    string     `json:"co_level"`
	Moisture   string     `json:"moisture"`
	AirQuality AirQuality `json:"air_quality"`
	Recorded   string     `json:"recorded"`
}

func LatestMetrics(latest aqmmodels.Reading, loc *time.Location) Metrics {
	return Metrics{
		COLevel:    fmt.Sprintf("%d PPM", latest.COPPM),
		Moisture:   fmt.Sprintf("%d%%", latest.Moisture),
		AirQuality: Classify(latest.COPPM),
		Recorded:   latest.Timestamp.In(loc).Format(recordedLayout),
	}
}

// DayBounds returns [start, end) of the calendar day containing t in loc
func DayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	local := t.In(loc)
	y, m, d := local.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	return start, time.Date(y, m, d+1, 0, 0, 0, 0, loc)
}

// TrendWindow keeps readings on the same local date as latest and returns the
// most recent limit of them, oldest first. Input order does not matter.
func TrendWindow(readings []aqmmodels.Reading, latest time.Time, limit int, loc *time.Location) []aqmmodels.Reading {
	start, end := DayBounds(latest, loc)

	window := make([]aqmmodels.Reading, 0, len(readings))
	for _, r := range readings {
		if !r.Timestamp.Before(start) && r.Timestamp.Before(end) {
			window = append(window, r)
		}
	}
	sort.SliceStable(window, func(i, j int) bool {
		return window[i].Timestamp.Before(window[j].Timestamp)
	})

	if limit > 0 && len(window) > limit {
		window = window[len(window)-limit:]
	}
	return window
}

// Trend holds chart series aligned by index with Labels
type Trend struct {
	Labels         []string  `json:"labels"`
	CO             []int     `json:"co_ppm"`
	Moisture       []int     `json:"moisture"`
	COScaled       []float64 `json:"co_scaled"`
	MoistureScaled []float64 `json:"moisture_scaled"`
}

// BuildTrend turns a chronological window into chart series. The scaled series
// put CO (per 1000 ppm) and moisture (per 100%) on one axis.
func BuildTrend(window []aqmmodels.Reading, loc *time.Location) Trend {
	t := Trend{
		Labels:         make([]string, len(window)),
		CO:             make([]int, len(window)),
		Moisture:       make([]int, len(window)),
		COScaled:       make([]float64, len(window)),
		MoistureScaled: make([]float64, len(window)),
	}
	for i, r := range window {
		t.Labels[i] = r.Timestamp.In(loc).Format(trendLabelLayout)
		t.CO[i] = r.COPPM
		t.Moisture[i] = r.Moisture
		t.COScaled[i] = float64(r.COPPM) / 1000.0
		t.MoistureScaled[i] = float64(r.Moisture) / 100.0
	}
	return t
}

// HistoryRow is one line of the history log
type HistoryRow struct {
	No        int    `json:"no"`
	Timestamp string `json:"timestamp"`
	COPPM     int    `json:"co_ppm"`
	Moisture  int    `json:"moisture"`
}

// HistoryRows numbers newest-first readings starting at first
func HistoryRows(readings []aqmmodels.Reading, first int, loc *time.Location) []HistoryRow {
	rows := make([]HistoryRow, len(readings))
	for i, r := range readings {
		rows[i] = HistoryRow{
			No:        first + i,
			Timestamp: r.Timestamp.In(loc).Format(time.DateTime),
			COPPM:     r.COPPM,
			Moisture:  r.Moisture,
		}
	}
	return rows
}

// CSVWriter writes the export one reading at a time
type CSVWriter struct {
	w   *csv.Writer
	loc *time.Location
}

// NewCSVWriter writes the header row immediately
func NewCSVWriter(w io.Writer, loc *time.Location) (*CSVWriter, error) {
	cw := &CSVWriter{w: csv.NewWriter(w), loc: loc}
	if err := cw.w.Write(CSVHeader); err != nil {
		return nil, err
	}
	return cw, nil
}

func (c *CSVWriter) Write(r aqmmodels.Reading) error {
	return c.w.Write([]string{
		r.Timestamp.In(c.loc).Format(csvTimeLayout),
		strconv.Itoa(r.COPPM),
		strconv.Itoa(r.Moisture),
	})
}

// Flush pushes buffered rows to the underlying writer
func (c *CSVWriter) Flush() error {
	c.w.Flush()
	return c.w.Error()
}
