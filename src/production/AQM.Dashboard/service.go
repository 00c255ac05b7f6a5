package dashboard

import (
	"context"
	"fmt"
	"io"
	"math"
	"time"

	config "gitlab.com/maplesense1/aqm.sensor_server/src/production/AQM.Config"
	logger "gitlab.com/maplesense1/aqm.sensor_server/src/production/AQM.Logger"
	aqmmodels "gitlab.com/maplesense1/aqm.sensor_server/src/production/AQM.Models"
	interfaces "gitlab.com/maplesense1/aqm.sensor_server/src/production/AQM.Repository/Interfaces"
)

// Connection is the store status banner shown at the top of every pass
type Connection struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// HistoryPage is one page of the history log
type HistoryPage struct {
	Rows  []HistoryRow `json:"rows"`
	Page  int          `json:"page"`
	Limit int          `json:"limit"`
	Total int64        `json:"total"`
	Pages int          `json:"pages"`
}

// View is the result of one render pass. Empty views carry no metrics, trend or history.
type View struct {
	Title       string       `json:"title"`
	Connection  Connection   `json:"connection"`
	Empty       bool         `json:"empty"`
	Error       string       `json:"error,omitempty"`
	Freshness   *Freshness   `json:"freshness,omitempty"`
	Metrics     *Metrics     `json:"metrics,omitempty"`
	Trend       *Trend       `json:"trend,omitempty"`
	History     *HistoryPage `json:"history,omitempty"`
	GeneratedAt time.Time    `json:"generated_at"`
}

type Service struct {
	repo     interfaces.ReadingRepository
	settings config.DashboardSettings
	loc      *time.Location
	now      func() time.Time
	logger   *logger.Logger
}

func NewService(repo interfaces.ReadingRepository, settings config.DashboardSettings, log *logger.Logger) (*Service, error) {
	loc, err := settings.Location()
	if err != nil {
		return nil, fmt.Errorf("invalid dashboard timezone: %w", err)
	}
	return &Service{
		repo:     repo,
		settings: settings,
		loc:      loc,
		now:      time.Now,
		logger:   log.WithComponent("dashboard"),
	}, nil
}

// WithClock replaces the clock used for freshness
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) Location() *time.Location {
	return s.loc
}

// Render runs one pass. A failed ping only sets the banner; a failed read
// returns the partial view together with the error.
func (s *Service) Render(ctx context.Context, page, limit int) (*View, error) {
	view := &View{
		Title:       s.settings.Title,
		GeneratedAt: s.now(),
	}

	if err := s.repo.Ping(ctx); err != nil {
		s.logger.Logger.Warn().Err(err).Msg("Store ping failed")
		view.Connection = Connection{OK: false, Error: err.Error()}
	} else {
		view.Connection = Connection{OK: true}
	}

	latest, err := s.repo.GetLatestReading(ctx)
	if err != nil {
		return s.fail(view, "failed to load latest reading", err)
	}
	if latest == nil {
		view.Empty = true
		return view, nil
	}

	freshness := ComputeFreshness(latest.Timestamp, view.GeneratedAt, s.loc)
	metrics := LatestMetrics(*latest, s.loc)
	view.Freshness = &freshness
	view.Metrics = &metrics

	start, end := DayBounds(latest.Timestamp, s.loc)
	day, err := s.repo.GetReadingsBetween(ctx, start, end, s.settings.TrendLimit)
	if err != nil {
		return s.fail(view, "failed to load trend window", err)
	}
	trend := BuildTrend(TrendWindow(day, latest.Timestamp, s.settings.TrendLimit, s.loc), s.loc)
	view.Trend = &trend

	history, err := s.History(ctx, page, limit)
	if err != nil {
		return s.fail(view, "failed to load history", err)
	}
	view.History = history

	return view, nil
}

func (s *Service) fail(view *View, msg string, err error) (*View, error) {
	s.logger.ErrorWithError(err, msg)
	wrapped := fmt.Errorf("%s: %w", msg, err)
	view.Error = wrapped.Error()
	return view, wrapped
}

// History returns one newest-first page of the log. Out of range values fall back to defaults.
func (s *Service) History(ctx context.Context, page, limit int) (*HistoryPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = s.settings.HistoryPageSize
	}

	result, err := s.repo.GetReadings(ctx, aqmmodels.ReadingQueryParams{Page: page, Limit: limit})
	if err != nil {
		return nil, err
	}

	pages := 0
	if result.Limit > 0 {
		pages = int(math.Ceil(float64(result.Total) / float64(result.Limit)))
	}
	return &HistoryPage{
		Rows:  HistoryRows(result.Items, (result.Page-1)*result.Limit+1, s.loc),
		Page:  result.Page,
		Limit: result.Limit,
		Total: result.Total,
		Pages: pages,
	}, nil
}

// ExportCSV streams the full history, newest first, as CSV
func (s *Service) ExportCSV(ctx context.Context, w io.Writer) (int, error) {
	cw, err := NewCSVWriter(w, s.loc)
	if err != nil {
		return 0, err
	}

	rows := 0
	err = s.repo.StreamReadings(ctx, func(r aqmmodels.Reading) error {
		if err := cw.Write(r); err != nil {
			return err
		}
		rows++
		return nil
	})
	if flushErr := cw.Flush(); err == nil {
		err = flushErr
	}
	if err != nil {
		return rows, fmt.Errorf("csv export failed after %d rows: %w", rows, err)
	}
	return rows, nil
}
