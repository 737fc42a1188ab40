package engine

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sqlscout/sqlscout/internal/errors"
	"github.com/sqlscout/sqlscout/internal/execute"
	"github.com/sqlscout/sqlscout/internal/generate"
	"github.com/sqlscout/sqlscout/internal/index"
	"github.com/sqlscout/sqlscout/internal/logging"
	"github.com/sqlscout/sqlscout/internal/observe"
	"github.com/sqlscout/sqlscout/internal/retrieval"
	"github.com/sqlscout/sqlscout/internal/validate"
)

// State names one stage of the request lifecycle. Terminal states are
// never left once entered.
type State string

const (
	StateAssembling State = "assembling"
	StateGenerating State = "generating"
	StateValidating State = "validating"
	StateExecuting  State = "executing"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// Options are per-request overrides.
type Options struct {
	RowLimit       int  `json:"row_limit,omitempty"`
	TimeoutMS      int  `json:"timeout_ms,omitempty"`
	AllowUnbounded bool `json:"allow_unbounded,omitempty"`
}

// Request is one natural language question.
type Request struct {
	Question string  `json:"question"`
	Options  Options `json:"options"`
}

// ErrorInfo carries the failure classification to the caller. Kind is
// never flattened to a generic value.
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Response is the terminal result of a request.
type Response struct {
	RequestID    string           `json:"request_id"`
	Status       string           `json:"status"` // ok, failed
	SQL          string           `json:"sql,omitempty"`
	Explanation  string           `json:"explanation,omitempty"`
	Columns      []execute.Column `json:"columns,omitempty"`
	Rows         [][]any          `json:"rows,omitempty"`
	RowCount     int              `json:"row_count"`
	Truncated    bool             `json:"truncated"`
	ElapsedMS    int64            `json:"elapsed_ms"`
	Attempts     int              `json:"attempts"`
	GenerationID string           `json:"generation_id,omitempty"`
	Error        *ErrorInfo       `json:"error,omitempty"`
}

// Executor is the execution boundary, satisfied by execute.Executor.
type Executor interface {
	Execute(ctx context.Context, sqlText string, rowLimit int, timeout time.Duration) (*execute.Result, error)
}

// Config holds engine lifecycle limits.
type Config struct {
	MaxAttempts      int
	MaxConcurrent    int
	DefaultRowLimit  int
	MaxRowLimit      int
	MaxQuestionChars int
	QueryTimeout     time.Duration
}

// DefaultConfig returns engine defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:      3,
		MaxConcurrent:    8,
		DefaultRowLimit:  100,
		MaxRowLimit:      10000,
		MaxQuestionChars: 2000,
		QueryTimeout:     30 * time.Second,
	}
}

// Engine sequences retrieval, generation, validation, and execution
// for each request. Requests are independent and run concurrently up
// to the configured limit.
type Engine struct {
	index     *index.Index
	assembler *retrieval.Assembler
	generator generate.Service
	validator *validate.Validator
	executor  Executor
	sink      *observe.AuditSink
	config    Config
	sem       chan struct{}
}

func New(
	ix *index.Index,
	assembler *retrieval.Assembler,
	generator generate.Service,
	validator *validate.Validator,
	executor Executor,
	sink *observe.AuditSink,
	config Config,
) *Engine {
	defaults := DefaultConfig()

	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = defaults.MaxConcurrent
	}

	if config.DefaultRowLimit <= 0 {
		config.DefaultRowLimit = defaults.DefaultRowLimit
	}

	if config.MaxRowLimit <= 0 {
		config.MaxRowLimit = defaults.MaxRowLimit
	}

	if config.MaxQuestionChars <= 0 {
		config.MaxQuestionChars = defaults.MaxQuestionChars
	}

	if config.QueryTimeout <= 0 {
		config.QueryTimeout = defaults.QueryTimeout
	}

	return &Engine{
		index:     ix,
		assembler: assembler,
		generator: generator,
		validator: validator,
		executor:  executor,
		sink:      sink,
		config:    config,
		sem:       make(chan struct{}, config.MaxConcurrent),
	}
}

// Ask processes one question to a terminal response. The error return
// is reserved for caller cancellation; every engine-level failure is
// reported inside the response.
func (e *Engine) Ask(ctx context.Context, request Request) (*Response, error) {
	start := time.Now()

	response := &Response{
		RequestID: uuid.New().String(),
		Status:    "failed",
	}

	question := strings.TrimSpace(request.Question)
	if question == "" {
		return e.fail(response, question, start, errors.New(errors.ErrTypeInput, "question is empty")), nil
	}

	if len(question) > e.config.MaxQuestionChars {
		return e.fail(response, question, start, errors.Newf(errors.ErrTypeInput,
			"question exceeds %d characters", e.config.MaxQuestionChars)), nil
	}

	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	// Bind the schema generation for the whole request. A rebuild that
	// lands mid-flight is not observed.
	generation, ok := e.index.Current()
	if !ok {
		return e.fail(response, question, start, errors.New(errors.ErrTypeConfig,
			"no schema has been loaded")), nil
	}

	response.GenerationID = generation.ID()

	rowLimit := request.Options.RowLimit
	if rowLimit <= 0 {
		rowLimit = e.config.DefaultRowLimit
	}

	if rowLimit > e.config.MaxRowLimit {
		rowLimit = e.config.MaxRowLimit
	}

	timeout := e.config.QueryTimeout
	if request.Options.TimeoutMS > 0 {
		timeout = time.Duration(request.Options.TimeoutMS) * time.Millisecond
	}

	var (
		feedback    []string
		lastErr     error
		lastVerdict *validate.Verdict
	)

	for attempt := 1; attempt <= e.config.MaxAttempts; attempt++ {
		response.Attempts = attempt

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		e.transition(response.RequestID, StateAssembling, attempt)
		assembled := e.assembler.Assemble(ctx, generation, question, feedback)

		e.transition(response.RequestID, StateGenerating, attempt)

		candidate, err := e.generator.Generate(ctx, question, assembled, attempt)
		if err != nil {
			observe.GenerationAttempts.WithLabelValues(string(errors.GetType(err))).Inc()

			if errors.IsType(err, errors.ErrTypeGenerationDeclined) {
				// A decline is terminal: retrying the same empty or
				// low-confidence context will not produce a better
				// answer.
				declined := errors.Wrap(err, errors.ErrTypeGenerationExhausted,
					"generation backend declined to answer")

				return e.fail(response, question, start, declined), nil
			}

			lastErr = err

			continue
		}

		observe.GenerationAttempts.WithLabelValues("ok").Inc()
		response.SQL = candidate.SQL
		response.Explanation = candidate.Explanation

		e.transition(response.RequestID, StateValidating, attempt)

		verdict := e.validator.Validate(candidate, generation.Snapshot(), request.Options.AllowUnbounded)
		lastVerdict = verdict

		if !verdict.Accepted() {
			violation := verdict.Violations[0]
			observe.ValidationRejections.WithLabelValues(string(violation.Kind)).Inc()
			logging.Debugf("candidate rejected (%s): %s", violation.Kind, violation.Message)

			lastErr = verdict.Err()
			feedback = append(feedback, "prior attempt failed: "+violation.Message)

			continue
		}

		e.transition(response.RequestID, StateExecuting, attempt)

		result, err := e.executor.Execute(ctx, candidate.SQL, rowLimit, timeout)
		if err != nil {
			return e.failWithAudit(response, question, start, err, verdict), nil
		}

		response.Status = "ok"
		response.Columns = result.Columns
		response.Rows = result.Rows
		response.RowCount = result.RowCount
		response.Truncated = result.Truncated
		response.ElapsedMS = time.Since(start).Milliseconds()

		e.transition(response.RequestID, StateDone, attempt)
		observe.RequestsTotal.WithLabelValues("ok").Inc()
		observe.RequestDuration.Observe(time.Since(start).Seconds())
		observe.RowsReturned.Observe(float64(result.RowCount))
		e.audit(response, question, string(validate.OutcomeAccepted))

		return response, nil
	}

	if lastErr == nil {
		lastErr = errors.New(errors.ErrTypeGenerationExhausted, "generation attempts exhausted")
	}

	if errors.IsRecoverable(lastErr) {
		lastErr = errors.Wrap(lastErr, errors.ErrTypeGenerationExhausted,
			"no valid statement produced within the attempt budget")
	}

	return e.failWithAudit(response, question, start, lastErr, lastVerdict), nil
}

func (e *Engine) transition(requestID string, state State, attempt int) {
	logging.Debugf("request %s: %s (attempt %d)", requestID, state, attempt)
}

func (e *Engine) fail(response *Response, question string, start time.Time, err error) *Response {
	return e.failWithAudit(response, question, start, err, nil)
}

func (e *Engine) failWithAudit(
	response *Response,
	question string,
	start time.Time,
	err error,
	verdict *validate.Verdict,
) *Response {
	response.Status = "failed"
	response.ElapsedMS = time.Since(start).Milliseconds()
	response.Error = &ErrorInfo{
		Kind:    string(errors.GetType(err)),
		Message: err.Error(),
	}

	e.transition(response.RequestID, StateFailed, response.Attempts)
	observe.RequestsTotal.WithLabelValues("failed").Inc()
	observe.RequestDuration.Observe(time.Since(start).Seconds())

	outcome := ""
	if verdict != nil {
		outcome = string(verdict.Outcome)
	}

	e.audit(response, question, outcome)

	return response
}

func (e *Engine) audit(response *Response, question, outcome string) {
	if e.sink == nil {
		return
	}

	// A truncated result is partial success: the request stays ok but
	// the record names the row limit kind.
	kind := ""

	switch {
	case response.Error != nil:
		kind = response.Error.Kind
	case response.Truncated:
		kind = string(errors.ErrTypeRowLimit)
	}

	e.sink.Publish(observe.Record{
		RequestID:         response.RequestID,
		Question:          question,
		SQL:               response.SQL,
		ValidationOutcome: outcome,
		RowCount:          response.RowCount,
		ElapsedMS:         response.ElapsedMS,
		Status:            response.Status,
		ErrorKind:         kind,
	})
}
