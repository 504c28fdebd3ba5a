package nmemory

import (
	"github.com/JonathanMagnan/nmemory/entity"
	"github.com/JonathanMagnan/nmemory/indexes"
)

// The atomic log records every micro-step of a compound mutation so that a
// failure anywhere inside the scope can unwind the table to its prior state.
// It is an in-process undo journal, not durable storage.

type undoStep interface {
	undo()
}

type indexInsertStep struct {
	ix  indexes.Index
	rec *entity.Record
}

func (s indexInsertStep) undo() { _ = s.ix.Delete(s.rec) }

type indexDeleteStep struct {
	ix  indexes.Index
	rec *entity.Record
}

// Restore skips the unique check: the journal replays a state that held
// before the scope opened.
func (s indexDeleteStep) undo() { s.ix.Restore(s.rec) }

type recordUpdateStep struct {
	rec    *entity.Record
	before *entity.Record
}

func (s recordUpdateStep) undo() { _ = s.rec.CopyFrom(s.before) }

type atomicLog struct {
	table     string
	steps     []undoStep
	completed bool
}

func (l *atomicLog) indexInserted(ix indexes.Index, rec *entity.Record) {
	l.steps = append(l.steps, indexInsertStep{ix: ix, rec: rec})
	AtomicSteps.WithLabelValues(l.table, "index_insert").Inc()
}

func (l *atomicLog) indexDeleted(ix indexes.Index, rec *entity.Record) {
	l.steps = append(l.steps, indexDeleteStep{ix: ix, rec: rec})
	AtomicSteps.WithLabelValues(l.table, "index_delete").Inc()
}

func (l *atomicLog) recordUpdated(rec, before *entity.Record) {
	l.steps = append(l.steps, recordUpdateStep{rec: rec, before: before})
	AtomicSteps.WithLabelValues(l.table, "record_update").Inc()
}

// undo unwinds every logged step in reverse order.
func (l *atomicLog) undo() {
	for i := len(l.steps) - 1; i >= 0; i-- {
		l.steps[i].undo()
	}
}

// runAtomic opens a scope, runs fn, and completes the scope only when fn
// returns nil. Any error unwinds all logged steps before it propagates, so a
// half-applied mutation never survives. Completion is the last step: every
// validation fn performs still happens inside the undo window.
func (t *Table) runAtomic(fn func(log *atomicLog) error) error {
	log := &atomicLog{table: t.Name()}
	defer func() {
		if !log.completed {
			log.undo()
			RollbackCount.WithLabelValues(log.table).Inc()
		}
	}()
	if err := fn(log); err != nil {
		t.db.logger.Debug("mutation rolled back",
			"table", log.table, "steps", len(log.steps), "error", err)
		return err
	}
	log.completed = true
	return nil
}
