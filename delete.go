package nmemory

import "github.com/JonathanMagnan/nmemory/query"

// Delete removes every row matching the predicate and returns the count.
// This layer only builds the execution context and counts results; index
// maintenance and referential enforcement are the executor's.
func (t *Table) Delete(tx *Tx, where query.Expr) (int, error) {
	ctx := ExecContext{DB: t.db, Tx: tx, Op: OpDelete}
	removed, err := t.db.executor.ExecuteDelete(t, where, ctx)
	if err != nil {
		return 0, err
	}
	MutationCount.WithLabelValues(t.Name(), "delete").Add(float64(len(removed)))
	return len(removed), nil
}
