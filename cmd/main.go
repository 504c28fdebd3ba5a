package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/JonathanMagnan/nmemory"
	"github.com/JonathanMagnan/nmemory/entity"
	"github.com/JonathanMagnan/nmemory/query"
	"github.com/ergochat/readline"
)

var completer = readline.NewPrefixCompleter(
	readline.PcItem("help"),
	readline.PcItem("insert"),
	readline.PcItem("select"),
	readline.PcItem("update"),
	readline.PcItem("delete"),
	readline.PcItem("count"),
	readline.PcItem("exit"),
	readline.PcItem("quit"),
)

func filterInput(r rune) (rune, bool) {
	switch r {
	// block CtrlZ feature
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

const usage = `commands:
  count <table>                   row count
  insert <table> f=v ...          insert a row
  select <table> [f=v ...]        list rows, optionally filtered
  update <table> <key>... f=v ... update the row under the primary key
                                  (one value per key field)
  delete <table> [f=v ...]        delete matching rows
  exit | quit
`

func parseValue(schema *entity.Schema, field, raw string) (any, error) {
	i, err := schema.FieldIndex(field)
	if err != nil {
		return nil, err
	}
	if raw == "null" {
		return nil, nil
	}
	switch schema.Field(i).Kind {
	case entity.Int:
		return strconv.ParseInt(raw, 10, 64)
	case entity.Float:
		return strconv.ParseFloat(raw, 64)
	case entity.Bool:
		return strconv.ParseBool(raw)
	default:
		return strings.Trim(raw, `"`), nil
	}
}

func parseAssignments(schema *entity.Schema, args []string) ([]string, []any, error) {
	fields := make([]string, 0, len(args))
	values := make([]any, 0, len(args))
	for _, arg := range args {
		field, raw, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, nil, fmt.Errorf("expected field=value, got %q", arg)
		}
		v, err := parseValue(schema, field, raw)
		if err != nil {
			return nil, nil, err
		}
		fields = append(fields, field)
		values = append(values, v)
	}
	return fields, values, nil
}

func whereOf(schema *entity.Schema, args []string) (query.Expr, error) {
	if len(args) == 0 {
		return query.All(), nil
	}
	fields, values, err := parseAssignments(schema, args)
	if err != nil {
		return nil, err
	}
	sub := make([]query.Expr, 0, len(fields))
	for i := range fields {
		sub = append(sub, query.Eq(fields[i], values[i]))
	}
	if len(sub) == 1 {
		return sub[0], nil
	}
	return query.And(sub...), nil
}

type shell struct {
	db *nmemory.Database
}

func (s *shell) run(line string) error {
	args := strings.Fields(line)
	if len(args) == 0 {
		return nil
	}
	if args[0] == "help" {
		fmt.Print(usage)
		return nil
	}
	if len(args) < 2 {
		return fmt.Errorf("usage: %s <table> ...", args[0])
	}
	table, err := s.db.Table(args[1])
	if err != nil {
		return err
	}
	tx := s.db.Begin()
	switch args[0] {
	case "count":
		fmt.Println(table.Count())
	case "insert":
		fields, values, err := parseAssignments(table.Schema(), args[2:])
		if err != nil {
			return err
		}
		rec := table.NewRecord()
		for i := range fields {
			if err := rec.SetNamed(fields[i], values[i]); err != nil {
				return err
			}
		}
		if err := table.Insert(tx, rec); err != nil {
			return err
		}
		fmt.Println(rec)
	case "select":
		where, err := whereOf(table.Schema(), args[2:])
		if err != nil {
			return err
		}
		rows, err := table.Select(tx, where)
		if err != nil {
			return err
		}
		for _, r := range rows {
			fmt.Println(r)
		}
		fmt.Printf("%d row(s)\n", len(rows))
	case "update":
		pkFields := table.Primary().KeyFields()
		rest := args[2:]
		key := make([]any, 0, len(pkFields))
		for _, f := range pkFields {
			if len(rest) == 0 || strings.Contains(rest[0], "=") {
				return fmt.Errorf("update %s takes %d key value(s) before the assignments",
					args[1], len(pkFields))
			}
			v, err := parseValue(table.Schema(), table.Schema().Field(f).Name, rest[0])
			if err != nil {
				return err
			}
			key = append(key, v)
			rest = rest[1:]
		}
		if len(rest) == 0 {
			return fmt.Errorf("usage: update <table> <key>... field=value ...")
		}
		current, err := table.GetByKey(tx, key...)
		if err != nil {
			return err
		}
		fields, values, err := parseAssignments(table.Schema(), rest)
		if err != nil {
			return err
		}
		for i := range fields {
			if err := current.SetNamed(fields[i], values[i]); err != nil {
				return err
			}
		}
		updated, err := table.Update(tx, key, current)
		if err != nil {
			return err
		}
		fmt.Println(updated)
	case "delete":
		where, err := whereOf(table.Schema(), args[2:])
		if err != nil {
			return err
		}
		n, err := table.Delete(tx, where)
		if err != nil {
			return err
		}
		fmt.Printf("%d row(s) deleted\n", n)
	default:
		return fmt.Errorf("command unknown: %s", args[0])
	}
	return nil
}

func main() {
	if len(os.Args) < 2 {
		_, _ = fmt.Fprintln(os.Stderr, "usage: nmemory <schema.yaml>")
		os.Exit(1)
	}
	cfg, err := loadSchema(os.Args[1])
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	db, err := buildDatabase(cfg)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	sh := &shell{db: db}

	l, err := readline.NewEx(&readline.Config{
		Prompt:          "◌ ",
		HistoryFile:     "/tmp/nmemory.history",
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",

		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	})
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	defer l.Close()

	for {
		line, err := l.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				break
			}
			continue
		} else if err == io.EOF {
			break
		}
		line = strings.TrimSpace(line)
		if line == "exit" || line == "quit" {
			break
		}
		if err := sh.run(line); err != nil {
			_, _ = fmt.Fprintln(os.Stderr, "error:", err.Error())
		}
	}
}
