package executor

import (
	"context"

	"github.com/oldsharp/udtschema/internal/query/parser"
	"github.com/oldsharp/udtschema/pkg/types"
)

// Prepared is a parsed statement whose user type names were resolved to ids
// when it was prepared. Renaming a referenced type afterwards does not
// change what it refers to.
type Prepared struct {
	exec     *Executor
	stmt     parser.Statement
	keyspace string
	bound    bindings
}

// Prepare parses a statement and binds the user types it names. Names that
// do not resolve yet are looked up again on each execution.
func (e *Executor) Prepare(sess *Session, cql string) (*Prepared, error) {
	stmt, err := parser.Parse(cql)
	if err != nil {
		return nil, parseError(err)
	}
	p := &Prepared{exec: e, stmt: stmt, bound: make(bindings)}
	if sess != nil {
		p.keyspace = sess.Keyspace()
	}
	p.bind()
	return p, nil
}

// Statement returns the parsed statement.
func (p *Prepared) Statement() parser.Statement {
	return p.stmt
}

// Keyspace returns the keyspace unqualified names resolve in.
func (p *Prepared) Keyspace() string {
	return p.keyspace
}

// Execute runs the statement in the keyspace it was prepared in.
func (p *Prepared) Execute(ctx context.Context) (*Result, error) {
	return p.exec.run(ctx, NewSession(p.keyspace), p.stmt, p.bound)
}

func (p *Prepared) bind() {
	switch s := p.stmt.(type) {
	case *parser.CreateTypeStatement:
		for _, f := range s.Fields {
			p.bindExpr(p.keyspaceOf(s.Name), f.Type)
		}
	case *parser.AlterTypeStatement:
		p.bindName(s.Name)
		if s.Action == parser.AlterTypeAdd {
			p.bindExpr(p.keyspaceOf(s.Name), s.Field.Type)
		}
	case *parser.DropTypeStatement:
		p.bindName(s.Name)
	case *parser.CreateTableStatement:
		for _, c := range s.Columns {
			p.bindExpr(p.keyspaceOf(s.Name), c.Type)
		}
	case *parser.AlterTableStatement:
		p.bindExpr(p.keyspaceOf(s.Name), s.Column.Type)
	}
}

func (p *Prepared) keyspaceOf(q parser.QualifiedName) string {
	if q.Keyspace != "" {
		return q.Keyspace
	}
	return p.keyspace
}

func (p *Prepared) bindName(q parser.QualifiedName) {
	ks := p.keyspaceOf(q)
	if ks == "" {
		return
	}
	if id, err := p.exec.catalog.ResolveName(ks, q.Name); err == nil {
		p.bound[bindingKey(ks, q.Name)] = id
	}
}

func (p *Prepared) bindExpr(keyspace string, expr parser.TypeExpr) {
	if expr.Keyspace == "" {
		switch expr.Name {
		case "list", "set", "map":
			for _, param := range expr.Params {
				p.bindExpr(keyspace, param)
			}
			return
		}
		if _, ok := types.PrimitiveKind(expr.Name); ok {
			return
		}
	}
	if expr.Keyspace != "" && expr.Keyspace != keyspace {
		return
	}
	p.bindName(parser.QualifiedName{Keyspace: keyspace, Name: expr.Name})
}
