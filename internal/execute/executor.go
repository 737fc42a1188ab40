package execute

import (
	"context"
	"database/sql"
	stderrors "errors"
	"strings"
	"time"

	"github.com/sqlscout/sqlscout/internal/errors"
	"github.com/sqlscout/sqlscout/internal/logging"
)

// Column describes one result column.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Result is a normalized query result. Truncated is set when the row
// cap cut the result short; a truncated result is still a success.
type Result struct {
	Columns   []Column `json:"columns"`
	Rows      [][]any  `json:"rows"`
	RowCount  int      `json:"row_count"`
	Truncated bool     `json:"truncated"`
	ElapsedMS int64    `json:"elapsed_ms"`
}

// Config holds executor tuning.
type Config struct {
	// Retries is the number of additional attempts after a transient
	// failure.
	Retries int
	// Backoff is the initial delay before a retry, doubled each
	// attempt.
	Backoff time.Duration
}

// Executor runs validated statements against the database. Statements
// run inside a read-only transaction where the driver supports one,
// as an independent safety net behind validation.
type Executor struct {
	db     *sql.DB
	config Config
}

func New(db *sql.DB, config Config) *Executor {
	if config.Backoff <= 0 {
		config.Backoff = 200 * time.Millisecond
	}

	return &Executor{db: db, config: config}
}

// Execute runs sqlText with a row cap and timeout. Rows beyond the cap
// are dropped and the result is marked truncated. Transient driver
// failures are retried with exponential backoff; timeouts and
// permanent failures are not.
func (e *Executor) Execute(
	ctx context.Context,
	sqlText string,
	rowLimit int,
	timeout time.Duration,
) (*Result, error) {
	if rowLimit <= 0 {
		return nil, errors.New(errors.ErrTypeInput, "row limit must be positive")
	}

	execCtx := ctx

	var cancel context.CancelFunc
	if timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	backoff := e.config.Backoff

	var lastErr error

	for attempt := 0; attempt <= e.config.Retries; attempt++ {
		if attempt > 0 {
			logging.Debugf("retrying execution after transient failure (attempt %d): %v",
				attempt+1, lastErr)

			select {
			case <-execCtx.Done():
				return nil, timeoutError(execCtx.Err())
			case <-time.After(backoff):
			}

			backoff *= 2
		}

		result, err := e.runOnce(execCtx, sqlText, rowLimit)
		if err == nil {
			result.ElapsedMS = time.Since(start).Milliseconds()
			return result, nil
		}

		if stderrors.Is(err, context.DeadlineExceeded) || execCtx.Err() != nil {
			return nil, timeoutError(err)
		}

		if !isTransient(err) {
			return nil, errors.Wrap(err, errors.ErrTypeExecution, "query execution failed")
		}

		lastErr = err
	}

	return nil, errors.Wrap(lastErr, errors.ErrTypeExecution,
		"query execution failed after retries")
}

func timeoutError(err error) error {
	return errors.Wrap(err, errors.ErrTypeExecutionTimeout, "query execution timed out")
}

// runOnce performs a single attempt.
func (e *Executor) runOnce(ctx context.Context, sqlText string, rowLimit int) (*Result, error) {
	rows, cleanup, err := e.query(ctx, sqlText)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	defer rows.Close()

	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}

	result := &Result{
		Columns: make([]Column, len(columnTypes)),
		Rows:    [][]any{},
	}

	for i, ct := range columnTypes {
		result.Columns[i] = Column{Name: ct.Name(), Type: ct.DatabaseTypeName()}
	}

	for rows.Next() {
		if result.RowCount >= rowLimit {
			result.Truncated = true
			break
		}

		values := make([]any, len(columnTypes))
		pointers := make([]any, len(columnTypes))

		for i := range values {
			pointers[i] = &values[i]
		}

		if err := rows.Scan(pointers...); err != nil {
			return nil, err
		}

		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}

		result.Rows = append(result.Rows, values)
		result.RowCount++
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// query opens a read-only transaction when the driver supports one,
// falling back to a plain query otherwise.
func (e *Executor) query(ctx context.Context, sqlText string) (*sql.Rows, func(), error) {
	tx, err := e.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		rows, qerr := e.db.QueryContext(ctx, sqlText)
		if qerr != nil {
			return nil, nil, qerr
		}

		return rows, func() {}, nil
	}

	rows, err := tx.QueryContext(ctx, sqlText)
	if err != nil {
		tx.Rollback()
		return nil, nil, err
	}

	return rows, func() { tx.Rollback() }, nil
}

// isTransient reports whether an execution error is worth retrying.
func isTransient(err error) bool {
	msg := strings.ToLower(err.Error())

	for _, marker := range []string{
		"deadlock",
		"connection reset",
		"connection refused",
		"broken pipe",
		"bad connection",
		"try again",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}

	return stderrors.Is(err, sql.ErrConnDone)
}
