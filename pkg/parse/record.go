package parse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"cover-palette/pkg/models"
	"cover-palette/pkg/utils"
)

// "<Start>[/<End>] <Year>", optionally preceded by a title
var issueNamePattern = regexp.MustCompile(`([A-Za-z]+)\.?(?:\s*/\s*([A-Za-z]+)\.?)?\s+(\d{4})\s*$`)

// The archive serves a cropped rendition under /upload/<transform>/
var cropSegmentPattern = regexp.MustCompile(`\bupload\b.+?/`)

var monthLayouts = []string{"2 January 2006", "2 Jan 2006"}

// Normalizer turns raw detail-page records into canonical records. It does no I/O.
type Normalizer struct {
	BlankCoverURL string // Placeholder image shared by issues without art; empty disables detection
}

// Normalize derives dates, the filename key, the cleaned link and the blank flag.
// A nil or malformed name is an error; a nil image link leaves the link fields empty.
func (n Normalizer) Normalize(raw models.RawCoverRecord) (models.CoverRecord, error) {
	if raw.Name == nil {
		return models.CoverRecord{}, fmt.Errorf("%w: %s has no name", utils.ErrSelectorNotFound, raw.DetailURL)
	}
	name := strings.TrimSpace(*raw.Name)

	m := issueNamePattern.FindStringSubmatch(name)
	if m == nil {
		return models.CoverRecord{}, fmt.Errorf("%w: cannot parse date from name %q", utils.ErrParsing, name)
	}
	startTok, endTok, year := m[1], m[2], m[3]
	if endTok == "" {
		endTok = startTok
	}

	start, err := parseIssueDate(startTok, year)
	if err != nil {
		return models.CoverRecord{}, fmt.Errorf("%w: cannot parse start date from name %q: %w", utils.ErrParsing, name, err)
	}
	end, err := parseIssueDate(endTok, year)
	if err != nil {
		return models.CoverRecord{}, fmt.Errorf("%w: cannot parse end date from name %q: %w", utils.ErrParsing, name, err)
	}

	rec := models.CoverRecord{
		Name:          name,
		Year:          start.Year(),
		StartMonthNum: int(start.Month()),
		EndMonthNum:   int(end.Month()),
		StartMonthStr: start.Month().String(),
		EndMonthStr:   end.Month().String(),
	}
	rec.Filename = Filename(rec.Year, rec.StartMonthNum, rec.EndMonthNum)

	if raw.ImageLink != nil {
		rec.ImageLink = *raw.ImageLink
		rec.CleanedLink = CleanLink(rec.ImageLink)
		rec.IsBlankCover = n.BlankCoverURL != "" && strings.Contains(rec.ImageLink, n.BlankCoverURL)
	}
	return rec, nil
}

// parseIssueDate parses "1 <month> <year>", accepting full and short month names in any case
func parseIssueDate(month, year string) (time.Time, error) {
	month = cases.Title(language.English).String(month)
	if month == "Sept" {
		month = "Sep"
	}
	value := "1 " + month + " " + year
	var lastErr error
	for _, layout := range monthLayouts {
		t, err := time.Parse(layout, value)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// Filename is the join key between records, images and palettes
func Filename(year, startMonth, endMonth int) string {
	return strconv.Itoa(year) + "_" + strconv.Itoa(startMonth) + "_" + strconv.Itoa(endMonth)
}

// CleanLink strips the crop transform so the full-size cover is requested
func CleanLink(link string) string {
	return cropSegmentPattern.ReplaceAllString(link, "upload/")
}

// CheckUniqueFilenames reports the first two records sharing a filename
func CheckUniqueFilenames(records []models.CoverRecord) error {
	seen := make(map[string]string, len(records))
	for _, r := range records {
		if other, dup := seen[r.Filename]; dup {
			return fmt.Errorf("%w: filename %q derived from both %q and %q", utils.ErrParsing, r.Filename, other, r.Name)
		}
		seen[r.Filename] = r.Name
	}
	return nil
}
