package marketdata

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/atmx/sabr-engine/internal/model"
)

// Column names are part of the input contract.
const (
	ColMaturity = "maturity"
	ColZeroRate = "zero_rate"
	ColExpiry   = "expiry"
	ColForward  = "forward"
	ColStrike   = "strike"
	ColVol      = "vol"
	ColPrice    = "price"
)

// ReadCurveCSV reads maturity,zero_rate rows. Rows need not be sorted.
func ReadCurveCSV(r io.Reader) ([]model.CurvePoint, error) {
	header, records, err := readAll(r)
	if err != nil {
		return nil, err
	}
	if err := requireColumns(header, ColMaturity, ColZeroRate); err != nil {
		return nil, err
	}

	points := make([]model.CurvePoint, 0, len(records))
	for i, rec := range records {
		m, err := field(rec, header, ColMaturity, i)
		if err != nil {
			return nil, err
		}
		z, err := field(rec, header, ColZeroRate, i)
		if err != nil {
			return nil, err
		}
		points = append(points, model.CurvePoint{Maturity: m, ZeroRate: z})
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: curve CSV has no rows", model.ErrValidation)
	}
	return points, nil
}

// ReadQuotesCSV reads expiry,forward,strike plus vol and/or price.
// A table with neither value column is rejected before any row is parsed.
func ReadQuotesCSV(r io.Reader) (*Dataset, error) {
	header, records, err := readAll(r)
	if err != nil {
		return nil, err
	}
	if err := requireColumns(header, ColExpiry, ColForward, ColStrike); err != nil {
		return nil, err
	}
	_, hasVol := header[ColVol]
	_, hasPrice := header[ColPrice]
	if !hasVol && !hasPrice {
		return nil, fmt.Errorf("%w: CSV must have a %q or %q column", model.ErrValidation, ColVol, ColPrice)
	}

	quotes := make([]model.MarketQuote, 0, len(records))
	for i, rec := range records {
		var q model.MarketQuote
		if q.Expiry, err = field(rec, header, ColExpiry, i); err != nil {
			return nil, err
		}
		if q.Forward, err = field(rec, header, ColForward, i); err != nil {
			return nil, err
		}
		if q.Strike, err = field(rec, header, ColStrike, i); err != nil {
			return nil, err
		}
		if hasVol {
			if q.Vol, err = optionalField(rec, header, ColVol, i); err != nil {
				return nil, err
			}
		}
		if hasPrice {
			if q.Price, err = optionalField(rec, header, ColPrice, i); err != nil {
				return nil, err
			}
		}
		quotes = append(quotes, q)
	}
	return NewDataset(quotes)
}

// readAll returns a lower-cased column index and the data rows.
func readAll(r io.Reader) (map[string]int, [][]string, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	head, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, fmt.Errorf("%w: CSV is empty", model.ErrValidation)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: read header: %v", model.ErrValidation, err)
	}
	header := make(map[string]int, len(head))
	for i, h := range head {
		header[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}

	var records [][]string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", model.ErrValidation, err)
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		records = append(records, rec)
	}
	return header, records, nil
}

func requireColumns(header map[string]int, cols ...string) error {
	var missing []string
	for _, c := range cols {
		if _, ok := header[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: CSV missing required columns: %s", model.ErrValidation, strings.Join(missing, ", "))
	}
	return nil
}

func field(rec []string, header map[string]int, col string, row int) (float64, error) {
	v, err := optionalField(rec, header, col, row)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return 0, fmt.Errorf("%w: row %d: %s is empty", model.ErrValidation, row+1, col)
	}
	return *v, nil
}

func optionalField(rec []string, header map[string]int, col string, row int) (*float64, error) {
	idx := header[col]
	if idx >= len(rec) {
		return nil, nil
	}
	s := strings.TrimSpace(rec[idx])
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: row %d: %s: %v", model.ErrValidation, row+1, col, err)
	}
	return &v, nil
}
