package query

import (
	"github.com/JonathanMagnan/nmemory/entity"
	"github.com/JonathanMagnan/nmemory/nmemory_errors"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
)

// Plan is a compiled predicate bound to one schema. Plans are immutable and
// safe to share between transactions; the compiler caches them.
type Plan struct {
	key    string
	eval   evalFunc
	tables []Source

	// index-assist for the whole-expression Eq case
	eqField int
	eqValue any
}

// Tables returns every source the plan reads besides the target table.
func (p *Plan) Tables() []Source { return p.tables }

// Run evaluates the plan against src and returns the matching stored
// records. The caller holds the locks governing src and p.Tables().
func (p *Plan) Run(src Source) ([]*entity.Record, error) {
	if p.eqField >= 0 {
		return src.Find(p.eqField, p.eqValue), nil
	}
	var out []*entity.Record
	for _, r := range src.Scan() {
		ok, err := p.eval(r)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// Matches evaluates the plan's predicate against a single record.
func (p *Plan) Matches(r *entity.Record) (bool, error) {
	if p.eqField >= 0 {
		return entity.ValueEqual(r.Get(p.eqField), p.eqValue), nil
	}
	return p.eval(r)
}

type Compiler struct {
	cache *lru.Cache[string, *Plan]
}

func NewCompiler(cacheSize int) *Compiler {
	cache, _ := lru.New[string, *Plan](cacheSize)
	return &Compiler{cache: cache}
}

// Compile binds an expression to a schema, reusing a cached plan when the
// same predicate was compiled for the same table before.
func (c *Compiler) Compile(s *entity.Schema, e Expr) (*Plan, error) {
	if e == nil {
		return nil, errors.Wrap(nmemory_errors.ErrPlanExecution, "nil expression")
	}
	key := s.Name() + "|" + e.fingerprint()
	if p, ok := c.cache.Get(key); ok {
		return p, nil
	}
	eval, err := e.bind(s)
	if err != nil {
		return nil, err
	}
	p := &Plan{key: key, eval: eval, eqField: -1}
	seen := map[Source]struct{}{}
	e.walkSources(func(src Source) {
		if _, dup := seen[src]; dup {
			return
		}
		seen[src] = struct{}{}
		p.tables = append(p.tables, src)
	})
	if cmp, ok := e.(cmpExpr); ok && cmp.op == opEq {
		if i, err := s.FieldIndex(cmp.field); err == nil {
			p.eqField, p.eqValue = i, cmp.value
		}
	}
	c.cache.Add(key, p)
	return p, nil
}
