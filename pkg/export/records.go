package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"cover-palette/pkg/models"
	"cover-palette/pkg/utils"
)

// RecordColumns is the records table header, in file order
var RecordColumns = []string{
	"name",
	"year",
	"start_month_num",
	"end_month_num",
	"start_month_str",
	"end_month_str",
	"filename",
	"cleaned_link",
	"is_blank_cover",
	"image_link",
}

func recordRow(r models.CoverRecord) []string {
	blank := "0"
	if r.IsBlankCover {
		blank = "1"
	}
	return []string{
		r.Name,
		strconv.Itoa(r.Year),
		strconv.Itoa(r.StartMonthNum),
		strconv.Itoa(r.EndMonthNum),
		r.StartMonthStr,
		r.EndMonthStr,
		r.Filename,
		r.CleanedLink,
		blank,
		r.ImageLink,
	}
}

// WriteRecords replaces the table at path. The file is written beside the target, then renamed.
func WriteRecords(path string, records []models.CoverRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("%w: creating %s: %w", utils.ErrFilesystem, filepath.Dir(path), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".records-*.csv")
	if err != nil {
		return fmt.Errorf("%w: %w", utils.ErrFilesystem, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	w := csv.NewWriter(tmp)
	if err := w.Write(RecordColumns); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: writing header: %w", utils.ErrFilesystem, err)
	}
	for _, r := range records {
		if err := w.Write(recordRow(r)); err != nil {
			tmp.Close()
			return fmt.Errorf("%w: writing %s: %w", utils.ErrFilesystem, r.Filename, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: flushing records: %w", utils.ErrFilesystem, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %w", utils.ErrFilesystem, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("%w: publishing %s: %w", utils.ErrFilesystem, path, err)
	}
	return nil
}

// ReadRecords loads a table written by WriteRecords. Columns are matched by header name;
// extra columns are ignored and image_link may be absent.
func ReadRecords(path string) ([]models.CoverRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrFilesystem, err)
	}
	defer f.Close()
	return DecodeRecords(f)
}

// DecodeRecords parses a records table from r
func DecodeRecords(r io.Reader) ([]models.CoverRecord, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: records header: %w", utils.ErrParsing, err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[h] = i
	}
	for _, required := range RecordColumns[:9] {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("%w: records table lacks column %q", utils.ErrParsing, required)
		}
	}

	var records []models.CoverRecord
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: records line %d: %w", utils.ErrParsing, line, err)
		}
		get := func(name string) string {
			if i, ok := col[name]; ok && i < len(row) {
				return row[i]
			}
			return ""
		}
		rec := models.CoverRecord{
			Name:          get("name"),
			StartMonthStr: get("start_month_str"),
			EndMonthStr:   get("end_month_str"),
			Filename:      get("filename"),
			CleanedLink:   get("cleaned_link"),
			ImageLink:     get("image_link"),
		}
		ints := []struct {
			name string
			dst  *int
		}{
			{"year", &rec.Year},
			{"start_month_num", &rec.StartMonthNum},
			{"end_month_num", &rec.EndMonthNum},
		}
		for _, f := range ints {
			n, err := strconv.Atoi(get(f.name))
			if err != nil {
				return nil, fmt.Errorf("%w: records line %d column %s: %w", utils.ErrParsing, line, f.name, err)
			}
			*f.dst = n
		}
		switch get("is_blank_cover") {
		case "1", "true", "True":
			rec.IsBlankCover = true
		case "0", "false", "False", "":
		default:
			return nil, fmt.Errorf("%w: records line %d: bad is_blank_cover %q", utils.ErrParsing, line, get("is_blank_cover"))
		}
		if rec.Filename == "" {
			return nil, fmt.Errorf("%w: records line %d has no filename", utils.ErrParsing, line)
		}
		records = append(records, rec)
	}
	return records, nil
}
