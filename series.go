package tft

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// Series is one aligned multivariate time series loaded from disk: the
// recorded target plus the covariate columns a FeatureSet declares. Known
// covariates may run past the end of the recorded target; those extra rows
// are what TailWindow consumes to forecast beyond the data.
//
// Static values do not vary with time and therefore do not live in the
// CSV; callers attach them after loading.
type Series struct {
	Target   []float64
	Observed map[string][]float64
	Known    map[string][]float64
	Static   map[string]float64
}

// ReadSeriesCSV loads a series from a CSV file with a header row. The
// header must contain targetCol and one column per covariate the
// FeatureSet declares; extra columns are ignored. Trailing rows may leave
// the target (and observed) cells empty — those rows extend the known
// covariates beyond the recorded target so the tail can be forecast.
func ReadSeriesCSV(path, targetCol string, fs FeatureSet) (*Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open series file")
	}
	defer f.Close()

	s, err := readSeries(f, targetCol, fs)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	return s, nil
}

func readSeries(r io.Reader, targetCol string, fs FeatureSet) (*Series, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, validationErrorf("reading header row: %v", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	locate := func(name string) (int, error) {
		i, ok := col[name]
		if !ok {
			return 0, validationErrorf("column %q not found in header %v", name, header)
		}
		return i, nil
	}

	targetIdx, err := locate(targetCol)
	if err != nil {
		return nil, err
	}
	observedIdx := make(map[string]int, len(fs.Observed))
	for _, v := range fs.Observed {
		if observedIdx[v.Name], err = locate(v.Name); err != nil {
			return nil, err
		}
	}
	knownIdx := make(map[string]int, len(fs.Known))
	for _, v := range fs.Known {
		if knownIdx[v.Name], err = locate(v.Name); err != nil {
			return nil, err
		}
	}

	s := &Series{
		Observed: make(map[string][]float64, len(observedIdx)),
		Known:    make(map[string][]float64, len(knownIdx)),
	}

	// Rows after the first empty target cell form the future region: known
	// covariates keep going, target and observed must stay empty.
	future := false
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, validationErrorf("row %d: %v", line, err)
		}

		raw := strings.TrimSpace(rec[targetIdx])
		switch {
		case raw == "":
			future = true
		case future:
			return nil, validationErrorf("row %d: target value after empty target rows; the future region must be contiguous at the end", line)
		default:
			v, err := parseCell(raw, line, targetCol)
			if err != nil {
				return nil, err
			}
			s.Target = append(s.Target, v)
		}

		for name, idx := range observedIdx {
			raw := strings.TrimSpace(rec[idx])
			if future {
				if raw != "" {
					return nil, validationErrorf("row %d: observed variable %q has a value beyond the recorded target; observed covariates are unknown in the future", line, name)
				}
				continue
			}
			v, err := parseCell(raw, line, name)
			if err != nil {
				return nil, err
			}
			s.Observed[name] = append(s.Observed[name], v)
		}
		for name, idx := range knownIdx {
			v, err := parseCell(strings.TrimSpace(rec[idx]), line, name)
			if err != nil {
				return nil, err
			}
			s.Known[name] = append(s.Known[name], v)
		}
	}

	if len(s.Target) == 0 {
		return nil, validationErrorf("no target values in file")
	}
	return s, nil
}

func parseCell(raw string, line int, name string) (float64, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, validationErrorf("row %d: column %q: cannot parse %q as a number", line, name, raw)
	}
	return v, nil
}

// Len returns the number of recorded target steps.
func (s *Series) Len() int {
	return len(s.Target)
}

// FutureRows returns how many rows extend beyond the recorded target.
// TailWindow needs at least tau of them.
func (s *Series) FutureRows() int {
	for _, series := range s.Known {
		return len(series) - len(s.Target)
	}
	return 0
}

// Windows cuts the recorded region into overlapping training windows.
func (s *Series) Windows(k, tau, stride int) []*TimeWindow {
	return SliceWindows(s.Target, s.Observed, s.Known, s.Static, k, tau, stride)
}

// TailWindow builds the inference window anchored at the end of the
// recorded target: the last k target steps plus tau future rows of known
// covariates. FutureTarget is nil because the future is what the caller
// wants predicted.
func (s *Series) TailWindow(k, tau int) (*TimeWindow, error) {
	n := len(s.Target)
	if n < k {
		return nil, validationErrorf("series has %d recorded steps, need at least %d", n, k)
	}
	w := &TimeWindow{
		PastTarget: s.Target[n-k : n],
		Observed:   make(map[string][]float64, len(s.Observed)),
		Known:      make(map[string][]float64, len(s.Known)),
		Static:     s.Static,
	}
	for name, series := range s.Observed {
		w.Observed[name] = series[n-k : n]
	}
	for name, series := range s.Known {
		if len(series) < n+tau {
			return nil, validationErrorf("known variable %q stops %d rows short of the %d-step horizon; append future rows to the file",
				name, n+tau-len(series), tau)
		}
		w.Known[name] = series[n-k : n+tau]
	}
	return w, nil
}
