package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/caseflow-io/caseflow-engine/pkg/apperrors"
	"github.com/caseflow-io/caseflow-engine/pkg/models"
)

type sinkCall struct {
	dataset string
	rows    []models.StageRow
}

type mockSink struct {
	mu      sync.Mutex
	calls   []sinkCall
	onStage func(dataset string, rows []models.StageRow) error
}

func (m *mockSink) StageBatch(_ context.Context, dataset string, rows []models.StageRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.onStage != nil {
		if err := m.onStage(dataset, rows); err != nil {
			return err
		}
	}
	copied := make([]models.StageRow, len(rows))
	copy(copied, rows)
	m.calls = append(m.calls, sinkCall{dataset: dataset, rows: copied})
	return nil
}

func (m *mockSink) rowsFor(dataset string) []models.StageRow {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.StageRow
	for _, c := range m.calls {
		if c.dataset == dataset {
			out = append(out, c.rows...)
		}
	}
	return out
}

func runExtract(t *testing.T, input string, opts Options) (*Result, error) {
	t.Helper()
	e := New(opts, zap.NewNop())
	return e.Run(context.Background(), &Source{Reader: strings.NewReader(input)})
}

func TestContainerConvention(t *testing.T) {
	input := `{
		"version": 3,
		"datasets": {
			"users": {
				"rows": [{"id": 1, "email": "a@x.io"}, {"id": 2, "email": "b@x.io"}]
			},
			"statuses": {
				"schema": {"id": "int", "name": "string"},
				"rows": [{"id": 1, "name": "Open"}]
			}
		}
	}`

	res, err := runExtract(t, input, Options{SampleRowLimit: 10})
	require.NoError(t, err)
	require.Len(t, res.Datasets, 2)

	users := res.Datasets[0]
	assert.Equal(t, "users", users.Name)
	assert.Equal(t, 2, users.RowCount)
	assert.Len(t, users.SampleRows, 2)
	assert.False(t, users.Truncated)

	statuses := res.Datasets[1]
	assert.Equal(t, "statuses", statuses.Name)
	assert.Equal(t, 1, statuses.RowCount)
	assert.NotNil(t, statuses.Schema)

	// Extraction completeness: dataset row counts sum to the meta total.
	assert.Equal(t, 3, res.Meta.TotalRows)
}

func TestNamedFieldConvention(t *testing.T) {
	input := `{
		"exports": [
			{"name": "tags", "rows": [{"id": 1, "tag": "smoke"}, {"id": 2, "tag": "regression"}]},
			{"name": "groups", "rows": [{"id": 9, "title": "QA"}]}
		]
	}`

	res, err := runExtract(t, input, Options{SampleRowLimit: 10})
	require.NoError(t, err)
	require.Len(t, res.Datasets, 2)
	assert.Equal(t, "tags", res.Datasets[0].Name)
	assert.Equal(t, 2, res.Datasets[0].RowCount)
	assert.Equal(t, "groups", res.Datasets[1].Name)
}

func TestSampleBoundAndTruncation(t *testing.T) {
	var rows []string
	for i := 0; i < 30; i++ {
		rows = append(rows, fmt.Sprintf(`{"id": %d}`, i))
	}
	input := `{"datasets": {"cases": {"rows": [` + strings.Join(rows, ",") + `]}}}`

	res, err := runExtract(t, input, Options{SampleRowLimit: 5})
	require.NoError(t, err)
	require.Len(t, res.Datasets, 1)

	ds := res.Datasets[0]
	assert.Equal(t, 30, ds.RowCount)
	assert.Len(t, ds.SampleRows, 5)
	assert.True(t, ds.Truncated)
	assert.True(t, res.Meta.Truncated)
}

func TestPreservedRowsAreStagedInOrder(t *testing.T) {
	var rows []string
	for i := 0; i < 7; i++ {
		rows = append(rows, fmt.Sprintf(`{"id": %d}`, i))
	}
	input := `{"datasets": {"statuses": {"rows": [` + strings.Join(rows, ",") + `]}}}`

	sink := &mockSink{}
	res, err := runExtract(t, input, Options{
		SampleRowLimit:   2,
		StageBatchSize:   3,
		PreserveDatasets: []string{"statuses"},
		Sink:             sink,
	})
	require.NoError(t, err)
	assert.Equal(t, 7, res.Meta.StagedRows)

	staged := sink.rowsFor("statuses")
	require.Len(t, staged, 7)
	for i, row := range staged {
		assert.Equal(t, i, row.Index)
		var decoded map[string]any
		require.NoError(t, json.Unmarshal(row.Data, &decoded))
		assert.EqualValues(t, i, decoded["id"].(float64))
	}
}

func TestAttachmentDatasetsAreNeverStaged(t *testing.T) {
	input := `{"datasets": {
		"case_attachments": {"rows": [{"id": 1, "blob": "xxxx"}]},
		"tags": {"rows": [{"id": 1}]}
	}}`

	sink := &mockSink{}
	res, err := runExtract(t, input, Options{
		SampleRowLimit:   5,
		PreserveDatasets: []string{"case_attachments", "tags"},
		Sink:             sink,
	})
	require.NoError(t, err)

	// Attachment-like datasets are still summarized, just never staged.
	require.Len(t, res.Datasets, 2)
	assert.Equal(t, 1, res.Datasets[0].RowCount)
	assert.Empty(t, sink.rowsFor("case_attachments"))
	assert.Len(t, sink.rowsFor("tags"), 1)
}

func TestSampleRowsAreSanitizedButStagedRowsAreNot(t *testing.T) {
	long := strings.Repeat("a", 1000)
	input := `{"datasets": {"cases": {"rows": [{"id": 1, "steps": "` + long + `"}]}}}`

	sink := &mockSink{}
	res, err := runExtract(t, input, Options{
		SampleRowLimit:   5,
		PreserveDatasets: []string{"cases"},
		Sink:             sink,
	})
	require.NoError(t, err)

	var sample map[string]any
	require.NoError(t, json.Unmarshal(res.Datasets[0].SampleRows[0], &sample))
	assert.Less(t, len(sample["steps"].(string)), 300)
	assert.Contains(t, sample["steps"].(string), truncationMarker)

	staged := sink.rowsFor("cases")
	require.Len(t, staged, 1)
	var full map[string]any
	require.NoError(t, json.Unmarshal(staged[0].Data, &full))
	assert.Len(t, full["steps"].(string), 1000)
}

func TestAbortKeepsOnlyClosedDatasets(t *testing.T) {
	var parts []string
	for i := 1; i <= 5; i++ {
		parts = append(parts, fmt.Sprintf(`"ds%d": {"rows": [{"id": 1}, {"id": 2}]}`, i))
	}
	input := `{"datasets": {` + strings.Join(parts, ",") + `}}`

	ctx, cancel := context.WithCancel(context.Background())
	sink := &mockSink{
		onStage: func(dataset string, _ []models.StageRow) error {
			if dataset == "ds3" {
				cancel()
			}
			return nil
		},
	}

	e := New(Options{
		SampleRowLimit:   5,
		StageBatchSize:   1,
		PreserveDatasets: []string{"ds3"},
		Sink:             sink,
	}, zap.NewNop())

	res, err := e.Run(ctx, &Source{Reader: strings.NewReader(input)})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrCanceled)

	// Exactly the two fully closed datasets survive; no partial third.
	require.NotNil(t, res)
	require.Len(t, res.Datasets, 2)
	assert.Equal(t, "ds1", res.Datasets[0].Name)
	assert.Equal(t, "ds2", res.Datasets[1].Name)
	assert.Equal(t, 4, res.Meta.TotalRows)
}

func TestSinkErrorTearsDownExtraction(t *testing.T) {
	input := `{"datasets": {"tags": {"rows": [{"id": 1}]}}}`

	sink := &mockSink{
		onStage: func(string, []models.StageRow) error {
			return fmt.Errorf("disk full")
		},
	}

	res, err := runExtract(t, input, Options{
		SampleRowLimit:   5,
		StageBatchSize:   1,
		PreserveDatasets: []string{"tags"},
		Sink:             sink,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Nil(t, res)
}

func TestMalformedInputFails(t *testing.T) {
	res, err := runExtract(t, `{"datasets": {"a": [`, Options{SampleRowLimit: 1})
	require.Error(t, err)
	assert.Nil(t, res)
}

func TestTruncatedExportAtTokenBoundaryFails(t *testing.T) {
	// Cut off after a complete row so every token parses cleanly but every
	// container is still open. No summary may survive.
	input := `{"datasets": {"statuses": {"rows": [{"id": 1, "name": "Open"}, {"id": 2, "name": "Closed"}`
	res, err := runExtract(t, input, Options{SampleRowLimit: 5})
	require.Error(t, err)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Nil(t, res)
}

func TestDatasetNameInheritance(t *testing.T) {
	// A nested container inside a named dataset inherits the name; rows at
	// both levels count toward the same dataset.
	input := `{
		"exports": [
			{
				"name": "runs",
				"meta": {"note": "nested"},
				"rows": [{"id": 1}],
				"extra": {"rows": [{"id": 2}]}
			}
		]
	}`

	res, err := runExtract(t, input, Options{SampleRowLimit: 10})
	require.NoError(t, err)
	require.Len(t, res.Datasets, 1)
	assert.Equal(t, "runs", res.Datasets[0].Name)
	assert.Equal(t, 2, res.Datasets[0].RowCount)
}

func TestSingularDatasetNamesFoldToPlural(t *testing.T) {
	input := `{
		"datasets": {
			"status": {"rows": [{"id": 1, "name": "Open"}]},
			"cases": {"rows": [{"id": 1, "title": "Login"}]}
		}
	}`

	res, err := runExtract(t, input, Options{SampleRowLimit: 10})
	require.NoError(t, err)
	require.Len(t, res.Datasets, 2)
	assert.Equal(t, "statuses", res.Datasets[0].Name)
	assert.Equal(t, "cases", res.Datasets[1].Name)
}
