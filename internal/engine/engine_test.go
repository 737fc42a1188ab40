package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlscout/sqlscout/internal/embedding"
	"github.com/sqlscout/sqlscout/internal/errors"
	"github.com/sqlscout/sqlscout/internal/execute"
	"github.com/sqlscout/sqlscout/internal/generate"
	"github.com/sqlscout/sqlscout/internal/index"
	"github.com/sqlscout/sqlscout/internal/observe"
	"github.com/sqlscout/sqlscout/internal/retrieval"
	"github.com/sqlscout/sqlscout/internal/schema"
	"github.com/sqlscout/sqlscout/internal/validate"
)

// scriptedGenerator returns one scripted result per attempt.
type scriptedGenerator struct {
	mu       sync.Mutex
	results  []generatorResult
	calls    int
	declined bool // decline whenever the assembled context is empty
}

type generatorResult struct {
	sql string
	err error
}

func (g *scriptedGenerator) Generate(
	_ context.Context,
	_ string,
	assembled *retrieval.Context,
	attempt int,
) (*generate.Candidate, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls++

	if g.declined && (assembled == nil || assembled.Empty()) {
		return nil, errors.New(errors.ErrTypeGenerationDeclined, "no schema context")
	}

	if len(g.results) == 0 {
		return nil, errors.New(errors.ErrTypeGenerationDeclined, "nothing scripted")
	}

	result := g.results[0]
	if len(g.results) > 1 {
		g.results = g.results[1:]
	}

	if result.err != nil {
		return nil, result.err
	}

	return &generate.Candidate{
		SQL:        result.sql,
		Confidence: 0.9,
		Attempt:    attempt,
		ContextIDs: assembled.FragmentIDs(),
	}, nil
}

type recordingExecutor struct {
	mu       sync.Mutex
	executed []string
	result   *execute.Result
	err      error
}

func (e *recordingExecutor) Execute(
	_ context.Context,
	sqlText string,
	rowLimit int,
	_ time.Duration,
) (*execute.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.executed = append(e.executed, sqlText)

	if e.err != nil {
		return nil, e.err
	}

	if e.result != nil {
		return e.result, nil
	}

	rows := [][]any{{"PO-001"}}
	if len(rows) > rowLimit {
		rows = rows[:rowLimit]
	}

	return &execute.Result{
		Columns:  []execute.Column{{Name: "po_nbr"}},
		Rows:     rows,
		RowCount: len(rows),
	}, nil
}

func erpSnapshot() *schema.Snapshot {
	snapshot := &schema.Snapshot{
		Database: "QADEE2798",
		Tables: []schema.Table{
			{
				Name:        "po_mstr",
				Description: "purchase order headers",
				RowCount:    52000,
				Columns: []schema.Column{
					{Name: "po_nbr", Type: "varchar", Description: "purchase order number"},
					{Name: "po_vend", Type: "varchar", Description: "vendor code"},
					{Name: "po_ord_date", Type: "date", Description: "order date"},
				},
				Relations: []schema.Relation{
					{SourceColumn: "po_vend", TargetTable: "vd_mstr", TargetColumn: "vd_addr"},
				},
			},
			{
				Name:        "vd_mstr",
				Description: "vendor master",
				RowCount:    480,
				Columns: []schema.Column{
					{Name: "vd_addr", Type: "varchar", Description: "vendor code"},
					{Name: "vd_name", Type: "varchar", Description: "vendor name"},
				},
			},
		},
	}
	snapshot.Normalize()

	return snapshot
}

func testEngine(t *testing.T, generator generate.Service, executor Executor) *Engine {
	t.Helper()

	ix := index.New(embedding.NewHashProvider(64))
	_, err := ix.Build(context.Background(), erpSnapshot())
	require.NoError(t, err)

	return New(
		ix,
		retrieval.New(nil, retrieval.DefaultConfig()),
		generator,
		validate.New(validate.Config{LargeTableRows: 1000}),
		executor,
		nil,
		Config{MaxAttempts: 3},
	)
}

func TestAskHappyPath(t *testing.T) {
	executor := &recordingExecutor{}
	generator := &scriptedGenerator{results: []generatorResult{
		{sql: "SELECT TOP 5 po.po_nbr, v.vd_name FROM po_mstr po JOIN vd_mstr v ON po.po_vend = v.vd_addr"},
	}}

	engine := testEngine(t, generator, executor)

	response, err := engine.Ask(context.Background(), Request{
		Question: "Show me the top 5 purchase orders with their vendors",
	})
	require.NoError(t, err)

	assert.Equal(t, "ok", response.Status)
	assert.Contains(t, response.SQL, "po_mstr")
	assert.Equal(t, 1, response.Attempts)
	assert.Equal(t, 1, response.RowCount)
	assert.NotEmpty(t, response.GenerationID)
	assert.Nil(t, response.Error)
	require.Len(t, executor.executed, 1)
}

func TestAskEmptyQuestion(t *testing.T) {
	engine := testEngine(t, &scriptedGenerator{}, &recordingExecutor{})

	response, err := engine.Ask(context.Background(), Request{Question: "   "})
	require.NoError(t, err)

	assert.Equal(t, "failed", response.Status)
	require.NotNil(t, response.Error)
	assert.Equal(t, string(errors.ErrTypeInput), response.Error.Kind)
}

func TestAskOversizedQuestion(t *testing.T) {
	engine := testEngine(t, &scriptedGenerator{}, &recordingExecutor{})

	response, err := engine.Ask(context.Background(), Request{
		Question: strings.Repeat("x", 3000),
	})
	require.NoError(t, err)

	assert.Equal(t, "failed", response.Status)
	require.NotNil(t, response.Error)
	assert.Equal(t, string(errors.ErrTypeInput), response.Error.Kind)
}

func TestAskRejectedCandidateNeverExecutes(t *testing.T) {
	executor := &recordingExecutor{}
	generator := &scriptedGenerator{results: []generatorResult{
		{sql: "DELETE FROM po_mstr WHERE po_ord_date < '2020-01-01'"},
	}}

	engine := testEngine(t, generator, executor)

	response, err := engine.Ask(context.Background(), Request{
		Question: "Delete all orders from 2020",
	})
	require.NoError(t, err)

	assert.Equal(t, "failed", response.Status)
	assert.Empty(t, executor.executed, "rejected candidate must never execute")
	require.NotNil(t, response.Error)
	assert.Equal(t, string(errors.ErrTypeGenerationExhausted), response.Error.Kind)
	assert.Equal(t, 3, response.Attempts)
}

func TestAskFeedbackLoopRecovers(t *testing.T) {
	executor := &recordingExecutor{}
	generator := &scriptedGenerator{results: []generatorResult{
		{sql: "SELECT po_total FROM po_mstr WHERE po_vend = 'V-100'"},
		{sql: "SELECT po_nbr FROM po_mstr WHERE po_vend = 'V-100'"},
	}}

	engine := testEngine(t, generator, executor)

	response, err := engine.Ask(context.Background(), Request{
		Question: "orders for vendor V-100",
	})
	require.NoError(t, err)

	assert.Equal(t, "ok", response.Status)
	assert.Equal(t, 2, response.Attempts)
	require.Len(t, executor.executed, 1)
	assert.Contains(t, executor.executed[0], "po_nbr")
}

func TestAskRepeatedRejectionTerminates(t *testing.T) {
	executor := &recordingExecutor{}
	generator := &scriptedGenerator{results: []generatorResult{
		{sql: "SELECT missing_col FROM po_mstr WHERE po_vend = 'V-100'"},
	}}

	engine := testEngine(t, generator, executor)

	response, err := engine.Ask(context.Background(), Request{
		Question: "orders for vendor V-100",
	})
	require.NoError(t, err)

	assert.Equal(t, "failed", response.Status)
	assert.Equal(t, 3, response.Attempts)
	assert.Equal(t, 3, generator.calls)
	assert.Empty(t, executor.executed)
	require.NotNil(t, response.Error)
	assert.Equal(t, string(errors.ErrTypeGenerationExhausted), response.Error.Kind)
}

func TestAskDeclineFailsWithoutExecution(t *testing.T) {
	executor := &recordingExecutor{}
	generator := &scriptedGenerator{declined: true, results: []generatorResult{
		{err: errors.New(errors.ErrTypeGenerationDeclined, "low confidence")},
	}}

	engine := testEngine(t, generator, executor)

	response, err := engine.Ask(context.Background(), Request{
		Question: "how many widgets are in stock",
	})
	require.NoError(t, err)

	assert.Equal(t, "failed", response.Status)
	assert.Equal(t, 1, response.Attempts)
	assert.Empty(t, executor.executed, "a guessed statement must never execute")
	require.NotNil(t, response.Error)
	assert.Equal(t, string(errors.ErrTypeGenerationExhausted), response.Error.Kind)
}

func TestAskGenerationTimeoutSurfaces(t *testing.T) {
	generator := &scriptedGenerator{results: []generatorResult{
		{err: errors.New(errors.ErrTypeGenerationTimeout, "backend timed out")},
	}}

	engine := testEngine(t, generator, &recordingExecutor{})

	response, err := engine.Ask(context.Background(), Request{
		Question: "orders for vendor V-100",
	})
	require.NoError(t, err)

	assert.Equal(t, "failed", response.Status)
	require.NotNil(t, response.Error)
	assert.Equal(t, string(errors.ErrTypeGenerationTimeout), response.Error.Kind)
}

func TestAskExecutionFailureSurfaces(t *testing.T) {
	executor := &recordingExecutor{
		err: errors.New(errors.ErrTypeExecutionTimeout, "query timed out"),
	}
	generator := &scriptedGenerator{results: []generatorResult{
		{sql: "SELECT po_nbr FROM po_mstr WHERE po_vend = 'V-100'"},
	}}

	engine := testEngine(t, generator, executor)

	response, err := engine.Ask(context.Background(), Request{
		Question: "orders for vendor V-100",
	})
	require.NoError(t, err)

	assert.Equal(t, "failed", response.Status)
	require.NotNil(t, response.Error)
	assert.Equal(t, string(errors.ErrTypeExecutionTimeout), response.Error.Kind)
}

func TestAskTruncatedResultAudited(t *testing.T) {
	executor := &recordingExecutor{result: &execute.Result{
		Columns:   []execute.Column{{Name: "po_nbr"}},
		Rows:      [][]any{{"PO-001"}, {"PO-002"}},
		RowCount:  2,
		Truncated: true,
	}}
	generator := &scriptedGenerator{results: []generatorResult{
		{sql: "SELECT po_nbr FROM po_mstr WHERE po_vend = 'V-100'"},
	}}

	var buf bytes.Buffer
	sink := observe.NewAuditSink(&buf, 8)

	ix := index.New(embedding.NewHashProvider(64))
	_, err := ix.Build(context.Background(), erpSnapshot())
	require.NoError(t, err)

	engine := New(
		ix,
		retrieval.New(nil, retrieval.DefaultConfig()),
		generator,
		validate.New(validate.Config{LargeTableRows: 1000}),
		executor,
		sink,
		Config{MaxAttempts: 3},
	)

	response, err := engine.Ask(context.Background(), Request{
		Question: "orders for vendor V-100",
	})
	require.NoError(t, err)

	assert.Equal(t, "ok", response.Status)
	assert.True(t, response.Truncated)
	assert.Nil(t, response.Error, "truncation is partial success, not failure")

	sink.Close()

	var record observe.Record
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "ok", record.Status)
	assert.Equal(t, string(errors.ErrTypeRowLimit), record.ErrorKind)
	assert.Equal(t, 2, record.RowCount)
}

func TestAskNoSchemaLoaded(t *testing.T) {
	engine := New(
		index.New(embedding.NewHashProvider(64)),
		retrieval.New(nil, retrieval.DefaultConfig()),
		&scriptedGenerator{},
		validate.New(validate.Config{}),
		&recordingExecutor{},
		nil,
		Config{},
	)

	response, err := engine.Ask(context.Background(), Request{Question: "anything"})
	require.NoError(t, err)

	assert.Equal(t, "failed", response.Status)
	require.NotNil(t, response.Error)
	assert.Equal(t, string(errors.ErrTypeConfig), response.Error.Kind)
}

func TestAskConcurrentRequests(t *testing.T) {
	executor := &recordingExecutor{}
	generator := &scriptedGenerator{results: []generatorResult{
		{sql: "SELECT po_nbr FROM po_mstr WHERE po_vend = 'V-100'"},
	}}

	engine := testEngine(t, generator, executor)

	var wg sync.WaitGroup

	for i := 0; i < 16; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			response, err := engine.Ask(context.Background(), Request{
				Question: "orders for vendor V-100",
			})

			assert.NoError(t, err)
			assert.Equal(t, "ok", response.Status)
		}()
	}

	wg.Wait()
}

func TestAskCancelledContext(t *testing.T) {
	engine := testEngine(t, &scriptedGenerator{}, &recordingExecutor{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.Ask(ctx, Request{Question: "orders for vendor V-100"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
