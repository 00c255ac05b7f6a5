// Package parser turns raw sensor payloads such as "CO: 949 ppm | Moisture: 94%"
// into readings.
package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	logger "gitlab.com/maplesense1/aqm.sensor_server/src/production/AQM.Logger"
	aqmmodels "gitlab.com/maplesense1/aqm.sensor_server/src/production/AQM.Models"
)

// Mode selects how numbers are mapped to fields.
type Mode string

const (
	// ModePositional assigns the first integer to co_ppm and the second to moisture.
	ModePositional Mode = "positional"
	// ModeLabeled looks values up by their label and falls back to positional.
	ModeLabeled Mode = "labeled"
)

// ErrTooFewNumbers is returned when a payload has fewer than two integers.
var ErrTooFewNumbers = errors.New("payload contains fewer than two integers")

var (
	numberPattern = regexp.MustCompile(`\d+`)
	labelPattern  = regexp.MustCompile(`([A-Za-z][A-Za-z0-9 _-]*?)\s*:\s*(\d+)`)
)

type Parser struct {
	mode   Mode
	now    func() time.Time
	logger *logger.Logger
}

// New builds a parser. The mode is matched case-insensitively.
func New(mode Mode, log *logger.Logger) *Parser {
	mode = Mode(strings.ToLower(strings.TrimSpace(string(mode))))
	if mode == "" {
		mode = ModePositional
	}
	return &Parser{
		mode:   mode,
		now:    time.Now,
		logger: log,
	}
}

// WithClock replaces the clock used to stamp readings.
func (p *Parser) WithClock(now func() time.Time) *Parser {
	p.now = now
	return p
}

// Parse returns a reading stamped with the current time, or nil when the
// payload cannot be parsed. Failures are logged, never returned.
func (p *Parser) Parse(payload string) *aqmmodels.Reading {
	co, moisture, err := p.Extract(payload)
	if err != nil {
		p.logger.Logger.Warn().Err(err).Str("payload", payload).Msg("Parsing error")
		return nil
	}
	return &aqmmodels.Reading{
		Timestamp: p.now(),
		COPPM:     co,
		Moisture:  moisture,
	}
}

// Extract pulls the CO and moisture values out of a payload.
func (p *Parser) Extract(payload string) (co, moisture int, err error) {
	if p.mode == ModeLabeled {
		if co, moisture, ok, err := labeled(payload); err != nil || ok {
			return co, moisture, err
		}
	}
	return positional(payload)
}

func positional(payload string) (int, int, error) {
	numbers := numberPattern.FindAllString(payload, 2)
	if len(numbers) < 2 {
		return 0, 0, ErrTooFewNumbers
	}
	co, err := strconv.Atoi(numbers[0])
	if err != nil {
		return 0, 0, fmt.Errorf("co_ppm %q: %w", numbers[0], err)
	}
	moisture, err := strconv.Atoi(numbers[1])
	if err != nil {
		return 0, 0, fmt.Errorf("moisture %q: %w", numbers[1], err)
	}
	return co, moisture, nil
}

// labeled reports ok=false when either label is absent.
func labeled(payload string) (co, moisture int, ok bool, err error) {
	var coRaw, moistureRaw string
	for _, m := range labelPattern.FindAllStringSubmatch(payload, -1) {
		label := strings.ToLower(strings.TrimSpace(m[1]))
		switch {
		case coRaw == "" && isCOLabel(label):
			coRaw = m[2]
		case moistureRaw == "" && (strings.Contains(label, "moist") || strings.Contains(label, "humid")):
			moistureRaw = m[2]
		}
	}
	if coRaw == "" || moistureRaw == "" {
		return 0, 0, false, nil
	}

	if co, err = strconv.Atoi(coRaw); err != nil {
		return 0, 0, false, fmt.Errorf("co_ppm %q: %w", coRaw, err)
	}
	if moisture, err = strconv.Atoi(moistureRaw); err != nil {
		return 0, 0, false, fmt.Errorf("moisture %q: %w", moistureRaw, err)
	}
	return co, moisture, true, nil
}

func isCOLabel(label string) bool {
	return label == "co" || strings.HasPrefix(label, "co ") || strings.HasSuffix(label, " co") ||
		strings.Contains(label, "carbon monoxide")
}
