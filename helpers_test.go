package nmemory

import (
	"log/slog"
	"testing"
	"time"

	"github.com/JonathanMagnan/nmemory/entity"
	"github.com/JonathanMagnan/nmemory/utils"
	"github.com/stretchr/testify/require"
)

// person{id, name, dept_id} with a unique primary on id and a secondary on
// dept_id, department{id, name}, and the foreign key dept_id -> department.id
func newTestDB(t *testing.T) (*Database, *Table, *Table) {
	t.Helper()
	db := NewDatabase(
		WithLockTimeout(100*time.Millisecond),
		WithLogger(utils.NewDefaultLogger(slog.LevelError)),
	)

	deptSchema, err := entity.NewSchema("department",
		entity.Field{Name: "id", Kind: entity.Int},
		entity.Field{Name: "name", Kind: entity.String},
	)
	require.NoError(t, err)
	dept, err := db.CreateTable(deptSchema, "id")
	require.NoError(t, err)

	personSchema, err := entity.NewSchema("person",
		entity.Field{Name: "id", Kind: entity.Int},
		entity.Field{Name: "name", Kind: entity.String},
		entity.Field{Name: "dept_id", Kind: entity.Int, Nullable: true},
	)
	require.NoError(t, err)
	person, err := db.CreateTable(personSchema, "id")
	require.NoError(t, err)
	_, err = person.CreateIndex("by_dept", false, "dept_id")
	require.NoError(t, err)

	_, err = db.CreateRelation("person_dept",
		person, []string{"dept_id"}, dept, []string{"id"})
	require.NoError(t, err)

	return db, person, dept
}

func insertDept(t *testing.T, db *Database, dept *Table, id int64, name string) {
	t.Helper()
	rec := dept.NewRecord()
	require.NoError(t, rec.SetNamed("id", id))
	require.NoError(t, rec.SetNamed("name", name))
	require.NoError(t, dept.Insert(db.Begin(), rec))
}

func insertPerson(t *testing.T, db *Database, person *Table, id int64, name string, deptID any) {
	t.Helper()
	rec := person.NewRecord()
	require.NoError(t, rec.SetNamed("id", id))
	require.NoError(t, rec.SetNamed("name", name))
	require.NoError(t, rec.SetNamed("dept_id", deptID))
	require.NoError(t, person.Insert(db.Begin(), rec))
}

func byDept(t *testing.T, person *Table) func(deptID int64) int {
	t.Helper()
	ix := person.indexOver(mustFields(t, person, "dept_id"))
	require.NotNil(t, ix)
	return func(deptID int64) int {
		return len(ix.Search([]any{deptID}))
	}
}

func mustFields(t *testing.T, table *Table, names ...string) []int {
	t.Helper()
	fields, err := table.schema.FieldIndexes(names...)
	require.NoError(t, err)
	return fields
}
