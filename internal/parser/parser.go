// Package parser turns weekly-schedule documents (docx or html) into
// event records. Both formats reduce to the same intermediate Document
// (tables of cell text plus flat paragraphs) which a single state
// machine walks: day headers in the left column set the date context,
// every line in the right column becomes one event, and participant
// lines attach to the event before them.
package parser

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"lockstep/internal/record"
)

// ErrUnsupported is returned for file types the parser cannot read.
var ErrUnsupported = errors.New("parser: unsupported document type")

// Document is the format-independent shape both readers produce.
// Cell and paragraph text keeps embedded newlines; the state machine
// treats every line as its own unit.
type Document struct {
	Paragraphs []string
	Tables     []Table
}

// Table is one document table, rows of cell text.
type Table struct {
	Rows [][]string
}

var (
	// Day headers: "Thứ 2".."Thứ 7", "Chủ nhật", "CN", unaccented "thu 5".
	reDayHeader = regexp.MustCompile(`(?i)\b(thứ\s*[2-7]|chủ\s*nhật|cn|thu\s*[2-7])\b`)
	reDowDigit  = regexp.MustCompile(`[2-7]`)

	reDateFull = regexp.MustCompile(`\b(\d{1,2})[/-](\d{1,2})[/-](\d{2,4})\b`)
	reDate     = regexp.MustCompile(`\b(\d{1,2})[/-](\d{1,2})\b`)

	// Clock forms: 08:30, 8h30, bare 8h, and ranges joined by a dash
	// or "đến"/"tới" with an optional leading "từ". A bare trailing h
	// ("8h-11h30") is consumed so the separator lines up.
	reTimeRange = regexp.MustCompile(`(?i)\b(?:từ\s*)?(\d{1,2})(?:[:h](\d{2})|h)?\s*(?:-|–|—|đến|tới|->)\s*(\d{1,2})(?:[:h](\d{2})|h)?`)
	reClock     = regexp.MustCompile(`(?i)\b(\d{1,2})[:h](\d{2})\b`)
	reHour      = regexp.MustCompile(`(?i)\b(\d{1,2})\s*h\b`)

	reLocTag           = regexp.MustCompile(`(?i)\b(địa\s*điểm\s*[:：]|tại\b)`)
	reBullet           = regexp.MustCompile(`^[*\-•]+\s*`)
	reParticipantsLine = regexp.MustCompile(`(?i)^(TP|Thành\s*phần|Mời\s*dự)\s*[:：\-]\s*(.+)$`)
	reParticipantsWord = regexp.MustCompile(`(?i)\b(thành\s*phần|tp|mời\s*dự)\b`)

	reYear = regexp.MustCompile(`\b(20\d{2})\b`)
)

var weekdayNames = map[time.Weekday]string{
	time.Monday:    "Thứ 2",
	time.Tuesday:   "Thứ 3",
	time.Wednesday: "Thứ 4",
	time.Thursday:  "Thứ 5",
	time.Friday:    "Thứ 6",
	time.Saturday:  "Thứ 7",
	time.Sunday:    "Chủ nhật",
}

// ParseFile reads and parses a schedule document. defaultYear
// disambiguates day/month dates without a year; pass 0 to infer it
// from the document, falling back to the current year.
func ParseFile(path string, defaultYear int) ([]record.Record, error) {
	doc, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(doc, defaultYear), nil
}

// ReadFile dispatches on the file extension.
func ReadFile(path string) (*Document, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".docx":
		return ReadDocx(path)
	case ".html", ".htm":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("parser: open %s: %w", filepath.Base(path), err)
		}
		defer f.Close()
		return ReadHTML(f)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, ext)
	}
}

// Parse runs the state machine over a document. Tables win when
// present; paragraphs are the fallback for table-less documents.
func Parse(doc *Document, defaultYear int) []record.Record {
	year := defaultYear
	if year == 0 {
		year = InferYear(doc)
	}
	if year == 0 {
		year = time.Now().Year()
	}

	m := &machine{year: year, lastIdx: -1}
	if len(doc.Tables) > 0 {
		for _, tb := range doc.Tables {
			for _, row := range tb.Rows {
				if len(row) >= 1 && strings.TrimSpace(row[0]) != "" {
					m.scanDayAndDate(row[0])
				}
				if len(row) >= 2 {
					for _, line := range strings.Split(row[1], "\n") {
						m.feed(line)
					}
				}
			}
		}
	} else {
		for _, p := range doc.Paragraphs {
			for _, line := range strings.Split(p, "\n") {
				m.feed(line)
			}
		}
	}
	return m.finish()
}

// InferYear returns the first plausible four-digit year found in the
// document text, or 0.
func InferYear(doc *Document) int {
	if y := scanYear(strings.Join(doc.Paragraphs, " ")); y != 0 {
		return y
	}
	for _, tb := range doc.Tables {
		for _, row := range tb.Rows {
			if y := scanYear(strings.Join(row, " | ")); y != 0 {
				return y
			}
		}
	}
	return 0
}

func scanYear(s string) int {
	for _, g := range reYear.FindAllString(s, -1) {
		y, err := strconv.Atoi(g)
		if err == nil && y >= 2000 && y <= 2100 {
			return y
		}
	}
	return 0
}

// machine carries the day context while lines stream through it.
type machine struct {
	year    int
	curDate string
	curDow  string
	events  []record.Record
	lastIdx int
}

func (m *machine) feed(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	if g := reParticipantsLine.FindStringSubmatch(line); g != nil {
		m.flushParticipants(g[2])
		return
	}
	if m.scanDayAndDate(line) {
		return
	}
	m.emit(line)
}

// scanDayAndDate reports whether the line is a day header ("Thứ 2"
// plus a date) and, if so, updates the machine's date context.
func (m *machine) scanDayAndDate(s string) bool {
	s = collapseSpace(s)
	dow := reDayHeader.FindStringSubmatch(s)
	if dow == nil {
		return false
	}
	day, month, year, ok := findDate(s, m.year)
	if !ok {
		return false
	}
	d, ok := coerceDate(day, month, year)
	if !ok {
		return false
	}

	m.curDate = d.Format("02/01/2006")
	w := strings.ToLower(dow[1])
	switch {
	case strings.Contains(w, "chủ nhật") || w == "cn":
		m.curDow = "Chủ nhật"
	default:
		if n := reDowDigit.FindString(w); n != "" {
			m.curDow = "Thứ " + n
		} else {
			m.curDow = ""
		}
	}
	return true
}

// findDate prefers an explicit dd/mm/yyyy over dd/mm with the
// inferred year. Two-digit years are taken as 2000-based.
func findDate(s string, defaultYear int) (day, month, year int, ok bool) {
	if g := reDateFull.FindStringSubmatch(s); g != nil {
		day, _ = strconv.Atoi(g[1])
		month, _ = strconv.Atoi(g[2])
		year, _ = strconv.Atoi(g[3])
		if len(g[3]) == 2 {
			year += 2000
		}
		return day, month, year, true
	}
	if g := reDate.FindStringSubmatch(s); g != nil {
		day, _ = strconv.Atoi(g[1])
		month, _ = strconv.Atoi(g[2])
		return day, month, defaultYear, true
	}
	return 0, 0, 0, false
}

func coerceDate(day, month, year int) (time.Time, bool) {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if d.Day() != day || d.Month() != time.Month(month) || d.Year() != year {
		return time.Time{}, false
	}
	return d, true
}

func (m *machine) flushParticipants(s string) {
	if m.lastIdx < 0 {
		return
	}
	s = smartCap(strings.Trim(s, " .;"))
	ev := &m.events[m.lastIdx]
	if ev.Participants != "" {
		ev.Participants += "; " + s
	} else {
		ev.Participants = s
	}
}

// emit turns one content line into an event under the current day
// context. The title is the line minus clock times and the location
// tag; the untouched line is kept in Raw.
func (m *machine) emit(rawLine string) {
	raw := collapseSpace(rawLine)
	raw = reBullet.ReplaceAllString(raw, "")
	if raw == "" {
		return
	}

	start, end := normTime(raw)
	loc, tagStart, tagEnd := extractLocation(raw)

	title := raw
	if tagEnd > 0 {
		title = raw[:tagStart] + raw[tagEnd:]
	}
	title = reTimeRange.ReplaceAllString(title, "")
	title = reClock.ReplaceAllString(title, "")
	title = reHour.ReplaceAllString(title, "")
	title = smartCap(collapseSpace(strings.Trim(title, " ,;–—|-")))

	m.events = append(m.events, record.Record{
		Date:     m.curDate,
		Dow:      m.curDow,
		Start:    start,
		End:      end,
		Location: loc,
		Title:    title,
		Raw:      strings.TrimSpace(rawLine),
	})
	m.lastIdx = len(m.events) - 1
}

// finish drops lines that carry no identity at all and backfills the
// weekday from the date where the header did not name one.
func (m *machine) finish() []record.Record {
	kept := make([]record.Record, 0, len(m.events))
	for _, e := range m.events {
		if !e.Valid() {
			continue
		}
		if e.Dow == "" && e.Date != "" {
			if d, err := time.Parse("02/01/2006", e.Date); err == nil {
				e.Dow = weekdayNames[d.Weekday()]
			}
		}
		kept = append(kept, e)
	}
	return kept
}

// normTime extracts a start/end pair, preferring an explicit range
// over a single clock time. Times normalize to HH:MM.
func normTime(s string) (start, end string) {
	if g := reTimeRange.FindStringSubmatch(s); g != nil {
		return clock(g[1], g[2]), clock(g[3], g[4])
	}
	if g := reClock.FindStringSubmatch(s); g != nil {
		return clock(g[1], g[2]), ""
	}
	if g := reHour.FindStringSubmatch(s); g != nil {
		return clock(g[1], ""), ""
	}
	return "", ""
}

func clock(h, m string) string {
	hour, _ := strconv.Atoi(h)
	min := 0
	if m != "" {
		min, _ = strconv.Atoi(m)
	}
	return fmt.Sprintf("%02d:%02d", hour, min)
}

// extractLocation finds the text after a "tại"/"địa điểm:" tag, cut
// before a participants label or an early colon. tagStart/tagEnd are
// the byte span of the tag itself so the caller can drop it from the
// title; tagEnd is 0 when no tag was found.
func extractLocation(raw string) (loc string, tagStart, tagEnd int) {
	m := reLocTag.FindStringIndex(raw)
	if m == nil {
		return "", 0, 0
	}
	tail := strings.TrimSpace(raw[m[1]:])
	cut := -1
	if tp := reParticipantsWord.FindStringIndex(tail); tp != nil {
		cut = tp[0]
	} else if c := strings.Index(tail, ":"); c >= 0 && c <= 40 {
		cut = c
	}
	if cut >= 0 {
		tail = tail[:cut]
	}
	return smartCap(strings.Trim(tail, " .;–—|-")), m[0], m[1]
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// smartCap uppercases the first rune and leaves the rest alone.
func smartCap(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}
