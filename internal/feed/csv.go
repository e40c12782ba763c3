package feed

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/STTM-NSU/simtrade/internal/model"
)

var ErrBadCSV = errors.New("bad csv")

var _columns = []string{"date", "open", "high", "low", "close", "volume"}

// ReadCSV parses daily bars with a header naming at least date, open, high,
// low, close and volume. Other columns such as "Adj Close" are ignored, and
// rows with a "null" field are skipped.
func ReadCSV(r io.Reader, symbol string) ([]model.DayBar, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: can't read header: %w", ErrBadCSV, err)
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.ToLower(strings.TrimSpace(h))] = i
	}
	cols := make([]int, len(_columns))
	for i, name := range _columns {
		col, ok := index[name]
		if !ok {
			return nil, fmt.Errorf("%w: no %s column", ErrBadCSV, name)
		}
		cols[i] = col
	}

	var bars []model.DayBar
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", ErrBadCSV, line, err)
		}

		b, ok, err := parseRecord(rec, cols, symbol)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", ErrBadCSV, line, err)
		}
		if ok {
			bars = append(bars, b)
		}
	}
	return bars, nil
}

func parseRecord(rec []string, cols []int, symbol string) (model.DayBar, bool, error) {
	fields := make([]string, len(cols))
	for i, col := range cols {
		if col >= len(rec) {
			return model.DayBar{}, false, fmt.Errorf("short record")
		}
		fields[i] = strings.TrimSpace(rec[col])
		if strings.EqualFold(fields[i], "null") || fields[i] == "" {
			return model.DayBar{}, false, nil
		}
	}

	d, err := time.Parse(time.DateOnly, fields[0])
	if err != nil {
		return model.DayBar{}, false, err
	}
	values := make([]float64, len(fields)-1)
	for i, f := range fields[1:] {
		if values[i], err = strconv.ParseFloat(f, 64); err != nil {
			return model.DayBar{}, false, err
		}
	}

	return model.DayBar{
		Symbol: symbol,
		Date:   d,
		Open:   values[0],
		High:   values[1],
		Low:    values[2],
		Close:  values[3],
		Volume: values[4],
	}, true, nil
}
