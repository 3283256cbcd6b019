// services/logparser.go
package services

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ReferralClick is one referral-link click reconstructed from the logs.
// Ephemeral: lives for a single analysis pass, never persisted.
type ReferralClick struct {
	Timestamp  time.Time `json:"timestamp"`
	ExternalID int64     `json:"external_id"`
	RawCode    string    `json:"raw_code"`
	CleanCode  string    `json:"clean_code"`
	LogLine    string    `json:"log_line"`
}

// ParseStats makes per-line skip outcomes observable instead of swallowing
// them. Logs are inherently noisy, so skips are counted, never raised.
type ParseStats struct {
	TotalLines         int `json:"total_lines"`
	LinesInPeriod      int `json:"lines_in_period"`
	SkippedNoTimestamp int `json:"skipped_no_timestamp"`
	SkippedBadDate     int `json:"skipped_bad_date"`
	SkippedOutOfPeriod int `json:"skipped_out_of_period"`
	Clicks             int `json:"clicks"`
}

type lineSkipReason int

const (
	skipNone lineSkipReason = iota
	skipEmpty
	skipNoTimestamp
	skipBadDate
)

const timestampLayout = "2006-01-02 15:04:05"

var (
	// "YYYY-MM-DD HH:MM:SS[,ms] - module - level - message"; the sub-second
	// part and the two dash-separated fields are ignored.
	timestampPattern = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2})(?:[,.]\d+)? - .+ - .+ - (.+)$`)

	// Pattern A: inbound /start carrying subject id then raw code.
	startPattern = regexp.MustCompile(`Message from ID:(\d+).*?/start\s+(ref[\w_]+)`)
	// Pattern B: persisted payload carrying raw code then subject id.
	payloadPattern = regexp.MustCompile(`Saved start payload '(ref[\w_]+)' for user\s*(\d+)`)
)

// CleanReferralCode strips the double prefix the miniapp surface produces:
// ref_refXXX -> refXXX. Codes without the artifact pass through unchanged.
func CleanReferralCode(raw string) string {
	if strings.HasPrefix(raw, "ref_ref") {
		return raw[4:]
	}
	return raw
}

// stripContainerPrefix removes the "tag | " segment a container runtime may
// prepend, locating the timestamp positionally instead of assuming column zero.
func stripContainerPrefix(line string) string {
	head := line
	if len(head) > 50 {
		head = head[:50]
	}
	if idx := strings.Index(head, " | "); idx >= 0 {
		return line[idx+3:]
	}
	return line
}

// parseLine extracts the timestamp and message tail from one log line whose
// container prefix has already been stripped.
func parseLine(line string) (time.Time, string, lineSkipReason) {
	if line == "" {
		return time.Time{}, "", skipEmpty
	}

	m := timestampPattern.FindStringSubmatch(line)
	if m == nil {
		return time.Time{}, "", skipNoTimestamp
	}

	ts, err := time.ParseInLocation(timestampLayout, m[1], time.UTC)
	if err != nil {
		return time.Time{}, "", skipBadDate
	}

	return ts, m[2], skipNone
}

// matchClick runs both grammar rules against the message and returns the
// normalized event shape shared by the two patterns.
func matchClick(ts time.Time, message, logLine string) (ReferralClick, bool) {
	var externalID int64
	var rawCode string

	if m := startPattern.FindStringSubmatch(message); m != nil {
		externalID, _ = strconv.ParseInt(m[1], 10, 64)
		rawCode = m[2]
	} else if m := payloadPattern.FindStringSubmatch(message); m != nil {
		rawCode = m[1]
		externalID, _ = strconv.ParseInt(m[2], 10, 64)
	} else {
		return ReferralClick{}, false
	}

	return ReferralClick{
		Timestamp:  ts,
		ExternalID: externalID,
		RawCode:    rawCode,
		CleanCode:  CleanReferralCode(rawCode),
		LogLine:    logLine,
	}, true
}

// ParseClicks streams the log source line-by-line and returns every referral
// click inside the half-open window [start, end). Stateless and restartable;
// never buffers the whole source, so rotating or very large files are safe.
//
// For windows of at most 31 days a date-prefix pre-filter is applied: a line
// whose leading bytes form a calendar date outside the window is dropped
// before regex matching. Lines that do not start with a date are always passed
// through, which keeps the filter conservative.
func ParseClicks(r io.Reader, start, end time.Time, skipDateFilter bool) ([]ReferralClick, ParseStats) {
	var clicks []ReferralClick
	var stats ParseStats

	var allowedDates map[string]bool
	if !skipDateFilter && end.Sub(start) <= 31*24*time.Hour {
		allowedDates = make(map[string]bool)
		for d := start.Truncate(24 * time.Hour); d.Before(end); d = d.Add(24 * time.Hour) {
			allowedDates[d.Format("2006-01-02")] = true
		}
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		stats.TotalLines++
		raw := scanner.Text()

		line := stripContainerPrefix(strings.TrimSpace(raw))
		if line == "" {
			continue
		}

		if allowedDates != nil && looksLikeDate(line) && !allowedDates[line[:10]] {
			stats.SkippedOutOfPeriod++
			continue
		}

		ts, message, skip := parseLine(line)
		switch skip {
		case skipEmpty:
			continue
		case skipNoTimestamp:
			stats.SkippedNoTimestamp++
			continue
		case skipBadDate:
			stats.SkippedBadDate++
			continue
		}

		if ts.Before(start) || !ts.Before(end) {
			stats.SkippedOutOfPeriod++
			continue
		}
		stats.LinesInPeriod++

		if click, ok := matchClick(ts, message, line); ok {
			clicks = append(clicks, click)
			stats.Clicks++
		}
	}

	return clicks, stats
}

func looksLikeDate(line string) bool {
	if len(line) < 10 {
		return false
	}
	if line[4] != '-' || line[7] != '-' {
		return false
	}
	for _, i := range []int{0, 1, 2, 3, 5, 6, 8, 9} {
		if line[i] < '0' || line[i] > '9' {
			return false
		}
	}
	return true
}

// LogExtractor locates and reads the bot log file.
type LogExtractor struct {
	Path string
}

// Candidate log locations, freshest-first preference handled in findLogFile.
var defaultLogPaths = []string{
	"logs/current/bot.log",
	"/app/logs/current/bot.log",
	"logs/bot.log",
	"/app/logs/bot.log",
}

func NewLogExtractor(path string) *LogExtractor {
	if path == "" {
		path = findLogFile()
	}
	return &LogExtractor{Path: path}
}

func findLogFile() string {
	type candidate struct {
		path  string
		fresh bool
		mtime time.Time
	}
	var best *candidate

	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	for _, p := range defaultLogPaths {
		info, err := os.Stat(p)
		if err != nil || info.Size() == 0 {
			continue
		}
		c := candidate{path: p, fresh: info.ModTime().After(cutoff), mtime: info.ModTime()}
		if best == nil || (c.fresh && !best.fresh) || (c.fresh == best.fresh && c.mtime.After(best.mtime)) {
			cc := c
			best = &cc
		}
	}
	if best != nil {
		log.Printf("✅ Selected log file: %s", best.path)
		return best.path
	}
	return defaultLogPaths[0]
}

// ParseWindow reads the configured file and extracts clicks for the window.
func (e *LogExtractor) ParseWindow(start, end time.Time, skipDateFilter bool) ([]ReferralClick, ParseStats, error) {
	f, err := os.Open(e.Path)
	if err != nil {
		return nil, ParseStats{}, fmt.Errorf("failed to open log file %s: %w", e.Path, err)
	}
	defer f.Close()

	clicks, stats := ParseClicks(f, start, end, skipDateFilter)
	log.Printf("📊 Parsed %s: lines=%d inPeriod=%d clicks=%d", e.Path, stats.TotalLines, stats.LinesInPeriod, stats.Clicks)
	return clicks, stats, nil
}
