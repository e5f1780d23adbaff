package metrics

import (
	"bytes"
	"context"
	"encoding/json"
	"io/ioutil"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/simcampaign"
)

const testLines = `
step, coverage
0,0,0
 1 ,2 ,3
2,4,

`

func TestNewTable(t *testing.T) {
	table, err := NewTable(bytes.NewReader([]byte(testLines)))
	require.NoError(t, err)
	require.Equal(t, Table{{0, 0, 0}, {1, 2, 3}, {2, 4}}, table)
}

func TestNewTable_EmptyCell(t *testing.T) {
	table, err := NewTable(bytes.NewReader([]byte("1,,3\n4,5,6\n")))
	require.NoError(t, err)
	require.Len(t, table, 2)
	require.Len(t, table[0], 3)
	require.True(t, math.IsNaN(table[0][1]))
	require.Equal(t, 3.0, table[0][2])

	mean, stddev := Average([]Table{table, {{3, 7, 5}}})
	require.Equal(t, []float64{2, 7, 4}, mean[0])
	require.Equal(t, 0.0, stddev[0][1])

	mean, _ = Average([]Table{{{1, math.NaN(), 2}}})
	require.Equal(t, []float64{1, 0, 2}, mean[0])
}

func TestAverage(t *testing.T) {
	mean, stddev := Average([]Table{
		{{0, 2}, {1, 4}},
		{{0, 4}, {1, 8}, {2, 10}},
	})

	require.Equal(t, [][]float64{{0, 3}, {1, 6}, {2, 10}}, mean)
	require.InDelta(t, 1.414, stddev[0][1], 0.001)
	require.InDelta(t, 2.828, stddev[1][1], 0.001)
	// A single value has no deviation.
	require.Equal(t, 0.0, stddev[2][1])

	mean, stddev = Average(nil)
	require.Empty(t, mean)
	require.Empty(t, stddev)
}

func TestAverager_Aggregate(t *testing.T) {
	main := t.TempDir()
	iter1 := writeMetrics(t, "1,10\n2,20\n")
	iter2 := writeMetrics(t, "1,30\n2,40\n")
	empty := t.TempDir()

	run := simcampaign.AlgorithmRun{
		Name:        "pso",
		OutputPaths: []string{iter1, iter2, empty},
	}
	info := simcampaign.CampaignInfo{Timestamp: "20240101T000000", OutputDir: main}

	err := NewAverager("metrics.csv", nil).Aggregate(context.Background(), run, info)
	require.NoError(t, err)

	data, err := ioutil.ReadFile(filepath.Join(main, "pso"+ReportSuffix))
	require.NoError(t, err)

	report := Report{}
	require.NoError(t, json.Unmarshal(data, &report))
	require.Equal(t, "pso", report.Algorithm)
	require.Equal(t, "20240101T000000", report.Campaign)
	require.Len(t, report.Sources, 2)
	require.Equal(t, [][]float64{{1, 20}, {2, 30}}, report.Mean)
}

func TestAverager_NothingToAggregate(t *testing.T) {
	main := t.TempDir()
	run := simcampaign.AlgorithmRun{Name: "lawn_mower", OutputPaths: []string{t.TempDir()}}

	err := NewAverager("metrics.csv", nil).Aggregate(context.Background(), run, simcampaign.CampaignInfo{OutputDir: main})
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(main, "lawn_mower"+ReportSuffix))
	require.True(t, os.IsNotExist(err))
}

func TestAverager_WriteFailure(t *testing.T) {
	run := simcampaign.AlgorithmRun{Name: "pso", OutputPaths: []string{writeMetrics(t, "1\n")}}
	info := simcampaign.CampaignInfo{OutputDir: filepath.Join(t.TempDir(), "missing")}

	err := NewAverager("metrics.csv", nil).Aggregate(context.Background(), run, info)
	require.Error(t, err)
}

func writeMetrics(t *testing.T, content string) string {
	dir := t.TempDir()
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "metrics.csv"), []byte(content), 0644))
	return dir
}
