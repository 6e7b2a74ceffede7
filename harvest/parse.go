package harvest

import (
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"iscout-notifier/pkg/tracker"
)

const (
	maxCoordinate = 9999
	maxLevel      = 10

	// Only mid-tier barbarian camps are worth alerting on; the listing is
	// dominated by low-level noise below this band.
	minBarbarianLevel = 5
	maxBarbarianLevel = 7
)

var (
	levelRegex = regexp.MustCompile(`(?i)Lv\s*(\d+)|Level\s*(\d+)`)
	xRegex     = regexp.MustCompile(`X:\s*(\d+)`)
	yRegex     = regexp.MustCompile(`Y:\s*(\d+)`)
	powerRegex = regexp.MustCompile(`(?i)([0-9.]+)\s*([MB])\b`)
)

// itemName returns the item label iScout uses for a category's rows.
func itemName(cat tracker.Category) string {
	switch cat {
	case tracker.Pyramid:
		return "Pyramid"
	case tracker.Barbarian:
		return "Barbarian"
	case tracker.Ares:
		return "Ares"
	}
	return ""
}

// ParseListing extracts points from an iScout map listing page. Rows that
// don't belong to the category or fail to parse are skipped; a page with no
// usable rows yields an empty slice, not an error.
func ParseListing(body io.Reader, cat tracker.Category) ([]tracker.Point, error) {
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, err
	}

	name := itemName(cat)
	now := time.Now()
	var points []tracker.Point

	doc.Find("tr").Each(func(_ int, row *goquery.Selection) {
		item := strings.TrimSpace(row.Find(`div[data-tooltip-id*="clickboard_data"]`).First().Text())
		if item == "" || !strings.Contains(item, name) {
			return
		}

		level, ok := parseLevel(item)
		if !ok || level < 1 || level > maxLevel {
			return
		}
		if cat == tracker.Barbarian && (level < minBarbarianLevel || level > maxBarbarianLevel) {
			return
		}

		x, y, ok := parseCoordinates(row)
		if !ok {
			return
		}
		if x < 0 || x > maxCoordinate || y < 0 || y > maxCoordinate {
			return
		}

		point := tracker.Point{
			X:         x,
			Y:         y,
			Level:     level,
			Alliance:  strings.TrimSpace(row.Find(`[data-tooltip-id*="alliance"]`).First().Text()),
			Timestamp: now,
		}

		if cat.HasPower() {
			if power, ok := parseRowPower(row); ok {
				point.Power = &power
			}
		}

		points = append(points, point)
	})

	return points, nil
}

func parseLevel(item string) (int, bool) {
	m := levelRegex.FindStringSubmatch(item)
	if m == nil {
		return 0, false
	}
	raw := m[1]
	if raw == "" {
		raw = m[2]
	}
	level, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return level, true
}

// parseCoordinates reads the X and Y cells, identified by their tooltip IDs.
func parseCoordinates(row *goquery.Selection) (x, y int, ok bool) {
	foundX, foundY := false, false
	row.Find("div[data-tooltip-id]").EachWithBreak(func(_ int, cell *goquery.Selection) bool {
		tooltipID, _ := cell.Attr("data-tooltip-id")
		text := strings.TrimSpace(cell.Text())

		if !foundX && strings.Contains(tooltipID, "_x") {
			if m := xRegex.FindStringSubmatch(text); m != nil {
				if v, err := strconv.Atoi(m[1]); err == nil {
					x, foundX = v, true
				}
			}
		}
		if !foundY && strings.Contains(tooltipID, "_y") {
			if m := yRegex.FindStringSubmatch(text); m != nil {
				if v, err := strconv.Atoi(m[1]); err == nil {
					y, foundY = v, true
				}
			}
		}
		return !(foundX && foundY)
	})
	return x, y, foundX && foundY
}

// parseRowPower scans the row's cells for a power figure in M/B notation.
func parseRowPower(row *goquery.Selection) (int64, bool) {
	var power int64
	found := false
	row.Find("td, div").EachWithBreak(func(_ int, cell *goquery.Selection) bool {
		if v, ok := ParsePower(strings.TrimSpace(cell.Text())); ok {
			power, found = v, true
			return false
		}
		return true
	})
	return power, found
}

// ParsePower parses a strength figure like "500M" or "1.2B" into a raw
// count. It returns false for text that carries no such figure.
func ParsePower(text string) (int64, bool) {
	m := powerRegex.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil || value <= 0 {
		return 0, false
	}
	switch strings.ToUpper(m[2]) {
	case "M":
		return int64(math.Round(value * 1_000_000)), true
	case "B":
		return int64(math.Round(value * 1_000_000_000)), true
	}
	return 0, false
}
