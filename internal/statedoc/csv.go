package statedoc

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	qerrors "github.com/ZMB-UZH/omero-docker-extended/internal/errors"
)

// csvHeader is the interchange header shared with the web service's
// spreadsheet export. Imports reject anything else so a column swap cannot
// be mistaken for data.
var csvHeader = []string{"Group", "Quota [GB]"}

// ParseCSV reads a bulk quota sheet into a group-to-GB map. Blank lines are
// skipped; everything else must be exactly two columns under the expected
// header.
func ParseCSV(r io.Reader) (map[string]float64, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, qerrors.ValidationFailed("csv", "empty file, expected header "+headerString())
	}
	if err != nil {
		return nil, qerrors.ValidationFailed("csv", fmt.Sprintf("read header: %v", err))
	}
	if !headerMatches(header) {
		return nil, qerrors.ValidationFailed("csv",
			fmt.Sprintf("unexpected header %q, expected %s", strings.Join(header, ","), headerString()))
	}

	quotas := make(map[string]float64)
	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, qerrors.ValidationFailed("csv", fmt.Sprintf("line %d: %v", line, err))
		}
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}
		if len(record) != 2 {
			return nil, qerrors.ValidationFailed("csv",
				fmt.Sprintf("line %d: expected 2 columns, got %d", line, len(record)))
		}

		group := strings.TrimSpace(record[0])
		if group == "" {
			return nil, qerrors.ValidationFailed("csv", fmt.Sprintf("line %d: empty group name", line))
		}
		gb, err := strconv.ParseFloat(strings.TrimSpace(record[1]), 64)
		if err != nil {
			return nil, qerrors.ValidationFailed("csv",
				fmt.Sprintf("line %d: quota %q for %q is not a number", line, record[1], group))
		}
		if _, dup := quotas[group]; dup {
			return nil, qerrors.ValidationFailed("csv", fmt.Sprintf("line %d: duplicate group %q", line, group))
		}
		quotas[group] = gb
	}
	return quotas, nil
}

// WriteCSV renders the current desired quotas as an import-ready sheet,
// groups sorted so repeated exports diff cleanly.
func WriteCSV(w io.Writer, quotas map[string]float64) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return qerrors.InternalError("write csv header", err)
	}

	groups := make([]string, 0, len(quotas))
	for group := range quotas {
		groups = append(groups, group)
	}
	sort.Strings(groups)

	for _, group := range groups {
		gb := strconv.FormatFloat(quotas[group], 'f', -1, 64)
		if err := cw.Write([]string{group, gb}); err != nil {
			return qerrors.InternalError("write csv row", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return qerrors.InternalError("flush csv", err)
	}
	return nil
}

func headerMatches(header []string) bool {
	if len(header) != len(csvHeader) {
		return false
	}
	for i, want := range csvHeader {
		if !strings.EqualFold(strings.TrimSpace(header[i]), want) {
			return false
		}
	}
	return true
}

func headerString() string {
	return strings.Join(csvHeader, ",")
}
