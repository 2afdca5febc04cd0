package executor

import (
	"context"
	"fmt"

	"github.com/oldsharp/udtschema/internal/query/parser"
	"golang.org/x/sync/errgroup"
)

// BatchError reports which statement of a batch failed.
type BatchError struct {
	Index int
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("statement %d: %v", e.Index+1, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// ExecuteScript parses a ;-separated script and runs it with ExecuteBatch.
func (e *Executor) ExecuteScript(ctx context.Context, sess *Session, cql string) ([]*Result, error) {
	stmts, err := parser.ParseAll(cql)
	if err != nil {
		return nil, parseError(err)
	}
	return e.ExecuteBatch(ctx, sess, stmts)
}

// ExecuteBatch runs statements in order and stops at the first failure,
// returning the results of the statements before it. Schema statements run
// one at a time. A run of consecutive data statements runs concurrently with
// one lane per table; statements on the same table keep their order, and
// statements on other tables may have been applied when one fails.
func (e *Executor) ExecuteBatch(ctx context.Context, sess *Session, stmts []parser.Statement) ([]*Result, error) {
	if sess == nil {
		sess = NewSession("")
	}
	results := make([]*Result, len(stmts))
	for i := 0; i < len(stmts); {
		if !isDataStatement(stmts[i]) {
			res, err := e.ExecuteStatement(ctx, sess, stmts[i])
			if err != nil {
				return results[:i], &BatchError{Index: i, Err: err}
			}
			results[i] = res
			i++
			continue
		}

		j := i
		for j < len(stmts) && isDataStatement(stmts[j]) {
			j++
		}
		if failed, err := e.runLanes(ctx, sess, stmts, i, j, results); err != nil {
			return results[:failed], &BatchError{Index: failed, Err: err}
		}
		i = j
	}
	return results, nil
}

// runLanes executes stmts[from:to] with one goroutine per table, bounded by
// the executor semaphore. It returns the lowest failed index.
func (e *Executor) runLanes(ctx context.Context, sess *Session, stmts []parser.Statement, from, to int, results []*Result) (int, error) {
	var order []string
	lanes := make(map[string][]int)
	for i := from; i < to; i++ {
		key := statementKeyspace(sess, stmts[i]) + "." + dataTable(stmts[i])
		if _, ok := lanes[key]; !ok {
			order = append(order, key)
		}
		lanes[key] = append(lanes[key], i)
	}

	errs := make([]error, to-from)
	var g errgroup.Group
	for _, key := range order {
		lane := lanes[key]
		g.Go(func() error {
			for _, idx := range lane {
				if err := e.sem.Acquire(ctx, 1); err != nil {
					errs[idx-from] = err
					return err
				}
				res, err := e.ExecuteStatement(ctx, sess, stmts[idx])
				e.sem.Release(1)
				if err != nil {
					errs[idx-from] = err
					return err
				}
				results[idx] = res
			}
			return nil
		})
	}
	werr := g.Wait()
	if werr == nil {
		return 0, nil
	}
	for i, err := range errs {
		if err != nil {
			return from + i, err
		}
	}
	return from, werr
}

func isDataStatement(stmt parser.Statement) bool {
	switch stmt.(type) {
	case *parser.InsertStatement, *parser.UpdateStatement, *parser.SelectStatement:
		return true
	}
	return false
}

func dataTable(stmt parser.Statement) string {
	switch s := stmt.(type) {
	case *parser.InsertStatement:
		return s.Table.Name
	case *parser.UpdateStatement:
		return s.Table.Name
	case *parser.SelectStatement:
		return s.From.Name
	}
	return ""
}
