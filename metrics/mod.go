// Package metrics averages the metrics written by the iterations of an
// algorithm.
package metrics

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.dedis.ch/simcampaign"
	"go.uber.org/zap"
	"golang.org/x/xerrors"
	"gonum.org/v1/gonum/stat"
)

// ReportSuffix is appended to the algorithm name to build the name of the
// report file.
const ReportSuffix = "_average.json"

// Table is the content of a metrics file: one row per step of the
// simulation, one column per metric.
type Table [][]float64

// NewTable reads the reader line by line. Lines without any number are
// skipped.
func NewTable(reader io.Reader) (Table, error) {
	table := Table{}

	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		numbers := parseLine(scanner.Text())
		if len(numbers) > 0 {
			table = append(table, numbers)
		}
	}

	return table, scanner.Err()
}

// Report contains the average and the standard deviation of each cell of the
// tables of the iterations.
type Report struct {
	Campaign  string      `json:"campaign"`
	Algorithm string      `json:"algorithm"`
	Sources   []string    `json:"sources"`
	Mean      [][]float64 `json:"mean"`
	StdDev    [][]float64 `json:"stddev"`
}

// Average computes the report of the tables. A cell missing or not a number
// in some tables is averaged over the others, and is zero when no table has
// it.
func Average(tables []Table) ([][]float64, [][]float64) {
	rows := 0
	for _, t := range tables {
		if len(t) > rows {
			rows = len(t)
		}
	}

	mean := make([][]float64, rows)
	stddev := make([][]float64, rows)

	for i := 0; i < rows; i++ {
		cols := 0
		for _, t := range tables {
			if i < len(t) && len(t[i]) > cols {
				cols = len(t[i])
			}
		}

		mean[i] = make([]float64, cols)
		stddev[i] = make([]float64, cols)

		for j := 0; j < cols; j++ {
			values := make([]float64, 0, len(tables))
			for _, t := range tables {
				if i < len(t) && j < len(t[i]) && !math.IsNaN(t[i][j]) {
					values = append(values, t[i][j])
				}
			}

			if len(values) == 0 {
				continue
			}

			mean[i][j] = stat.Mean(values, nil)
			if len(values) > 1 {
				stddev[i][j] = stat.StdDev(values, nil)
			}
		}
	}

	return mean, stddev
}

// Averager is an aggregator writing the report of an algorithm in the main
// directory of the campaign.
type Averager struct {
	filename string
	logger   *zap.Logger
}

// NewAverager creates an averager reading the given file in each output
// directory.
func NewAverager(filename string, logger *zap.Logger) Averager {
	if logger == nil {
		logger = zap.NewNop()
	}

	return Averager{filename: filename, logger: logger}
}

// Aggregate implements simcampaign.Aggregator.
func (a Averager) Aggregate(ctx context.Context, run simcampaign.AlgorithmRun, info simcampaign.CampaignInfo) error {
	tables := make([]Table, 0, len(run.OutputPaths))
	sources := make([]string, 0, len(run.OutputPaths))

	for _, dir := range run.OutputPaths {
		path := filepath.Join(dir, a.filename)

		table, err := readTable(path)
		if xerrors.Is(err, os.ErrNotExist) {
			a.logger.Debug("no metrics", zap.String("file", path))
			continue
		}

		if err != nil {
			return err
		}

		tables = append(tables, table)
		sources = append(sources, path)
	}

	if len(tables) == 0 {
		a.logger.Info("nothing to aggregate", zap.String("algorithm", run.Name))
		return nil
	}

	report := Report{
		Campaign:  info.Timestamp,
		Algorithm: run.Name,
		Sources:   sources,
	}

	report.Mean, report.StdDev = Average(tables)

	out := filepath.Join(info.OutputDir, run.Name+ReportSuffix)

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return xerrors.Errorf("couldn't encode the report: %w", err)
	}

	err = os.WriteFile(out, data, 0644)
	if err != nil {
		return xerrors.Errorf("couldn't write the report: %w", err)
	}

	a.logger.Info("report written",
		zap.String("algorithm", run.Name),
		zap.String("file", out),
		zap.Int("sources", len(sources)))

	return nil
}

func readTable(path string) (Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Errorf("couldn't open the metrics: %w", err)
	}

	defer f.Close()

	table, err := NewTable(f)
	if err != nil {
		return nil, xerrors.Errorf("couldn't read the metrics: %w", err)
	}

	return table, nil
}

func parseNumber(value string) (float64, error) {
	return strconv.ParseFloat(strings.Trim(value, " "), 64)
}

// parseLine reads a string and tries to convert values delimited by a
// comma. A cell that is not a number is NaN so that the columns keep their
// position, and trailing ones are dropped. The returned array is empty when
// the line has no number.
func parseLine(line string) []float64 {
	values := strings.Split(line, ",")
	numbers := make([]float64, len(values))
	last := -1

	for i, value := range values {
		num, err := parseNumber(value)
		if err != nil {
			numbers[i] = math.NaN()
			continue
		}

		numbers[i] = num
		last = i
	}

	return numbers[:last+1]
}
