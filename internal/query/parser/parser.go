package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/oldsharp/udtschema/pkg/types"
)

// ParseError represents a parsing error with location information.
type ParseError struct {
	Message  string
	Position int
	Token    Token
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at position %d: %s (got %s)", e.Position, e.Message, tokenText(e.Token))
}

func tokenText(t Token) string {
	switch t.Type {
	case TokenEOF:
		return "end of input"
	case TokenString:
		return "'" + t.Literal + "'"
	default:
		return t.Literal
	}
}

// Parser parses CQL statements into AST.
type Parser struct {
	lexer     *Lexer
	curToken  Token
	peekToken Token
}

// NewParser creates a new Parser for the given input.
func NewParser(input string) *Parser {
	p := &Parser{
		lexer: NewLexer(input),
	}
	// Read two tokens to initialize curToken and peekToken
	p.nextToken()
	p.nextToken()
	return p
}

// Parse parses a single statement, optionally terminated by a semicolon.
func Parse(input string) (Statement, error) {
	p := NewParser(input)
	stmt, err := p.ParseStatement()
	if err != nil {
		return nil, err
	}
	if p.curTokenIs(TokenSemicolon) {
		p.nextToken()
	}
	if !p.curTokenIs(TokenEOF) {
		return nil, p.errorf("unexpected input after statement")
	}
	return stmt, nil
}

// ParseAll parses a semicolon-separated script.
func ParseAll(input string) ([]Statement, error) {
	p := NewParser(input)
	var stmts []Statement
	for {
		for p.curTokenIs(TokenSemicolon) {
			p.nextToken()
		}
		if p.curTokenIs(TokenEOF) {
			return stmts, nil
		}
		stmt, err := p.ParseStatement()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
		if !p.curTokenIs(TokenSemicolon) && !p.curTokenIs(TokenEOF) {
			return nil, p.errorf("expected ; between statements")
		}
	}
}

// nextToken advances to the next token.
func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.lexer.NextToken()
}

// curTokenIs checks if the current token is of the given type.
func (p *Parser) curTokenIs(t TokenType) bool {
	return p.curToken.Type == t
}

// peekTokenIs checks if the peek token is of the given type.
func (p *Parser) peekTokenIs(t TokenType) bool {
	return p.peekToken.Type == t
}

func (p *Parser) errorf(format string, args ...interface{}) *ParseError {
	if p.curTokenIs(TokenError) {
		format, args = "invalid token %q", []interface{}{p.curToken.Literal}
	}
	return &ParseError{
		Message:  fmt.Sprintf(format, args...),
		Position: p.curToken.Pos,
		Token:    p.curToken,
	}
}

// expect consumes the current token if it matches, otherwise returns an error.
func (p *Parser) expect(t TokenType) error {
	if !p.curTokenIs(t) {
		return p.errorf("expected %s", t.String())
	}
	p.nextToken()
	return nil
}

// isIdent reports whether the current token can be used as an identifier.
func (p *Parser) isIdent() bool {
	return p.curTokenIs(TokenIdent) || p.curTokenIs(TokenQuotedIdent) || unreserved[p.curToken.Type]
}

// identifier consumes an identifier and returns its name.
func (p *Parser) identifier(what string) (string, error) {
	if !p.isIdent() {
		return "", p.errorf("expected %s", what)
	}
	name := p.curToken.Literal
	if unreserved[p.curToken.Type] {
		name = strings.ToLower(name)
	}
	p.nextToken()
	return name, nil
}

// qualifiedName consumes name or keyspace.name.
func (p *Parser) qualifiedName(what string) (QualifiedName, error) {
	first, err := p.identifier(what)
	if err != nil {
		return QualifiedName{}, err
	}
	if !p.curTokenIs(TokenDot) {
		return QualifiedName{Name: first}, nil
	}
	p.nextToken()
	second, err := p.identifier(what)
	if err != nil {
		return QualifiedName{}, err
	}
	return QualifiedName{Keyspace: first, Name: second}, nil
}

// ifNotExists consumes an optional IF NOT EXISTS.
func (p *Parser) ifNotExists() (bool, error) {
	if !p.curTokenIs(TokenIf) {
		return false, nil
	}
	p.nextToken()
	if err := p.expect(TokenNot); err != nil {
		return false, err
	}
	if err := p.expect(TokenExists); err != nil {
		return false, err
	}
	return true, nil
}

// ifExists consumes an optional IF EXISTS.
func (p *Parser) ifExists() (bool, error) {
	if !p.curTokenIs(TokenIf) {
		return false, nil
	}
	p.nextToken()
	if err := p.expect(TokenExists); err != nil {
		return false, err
	}
	return true, nil
}

// ParseStatement parses a CQL statement.
func (p *Parser) ParseStatement() (Statement, error) {
	switch p.curToken.Type {
	case TokenCreate:
		p.nextToken()
		switch p.curToken.Type {
		case TokenKeyspace:
			return p.parseCreateKeyspace()
		case TokenType_:
			return p.parseCreateType()
		case TokenTable:
			return p.parseCreateTable()
		}
		return nil, p.errorf("expected KEYSPACE, TYPE or TABLE after CREATE")
	case TokenDrop:
		p.nextToken()
		return p.parseDrop()
	case TokenAlter:
		p.nextToken()
		switch p.curToken.Type {
		case TokenType_:
			return p.parseAlterType()
		case TokenTable:
			return p.parseAlterTable()
		}
		return nil, p.errorf("expected TYPE or TABLE after ALTER")
	case TokenUse:
		p.nextToken()
		ks, err := p.identifier("keyspace name")
		if err != nil {
			return nil, err
		}
		return &UseStatement{Keyspace: ks}, nil
	case TokenInsert:
		return p.parseInsert()
	case TokenUpdate:
		return p.parseUpdate()
	case TokenSelect:
		return p.parseSelect()
	default:
		return nil, p.errorf("expected a statement")
	}
}

// parseCreateKeyspace parses CREATE KEYSPACE [IF NOT EXISTS] ks [WITH ...].
func (p *Parser) parseCreateKeyspace() (*CreateKeyspaceStatement, error) {
	p.nextToken() // Skip KEYSPACE
	stmt := &CreateKeyspaceStatement{ReplicationFactor: 1}

	var err error
	if stmt.IfNotExists, err = p.ifNotExists(); err != nil {
		return nil, err
	}
	if stmt.Name, err = p.identifier("keyspace name"); err != nil {
		return nil, err
	}
	if stmt.Options, err = p.parseOptions(); err != nil {
		return nil, err
	}

	if repl, ok := stmt.Options["replication"]; ok {
		for _, e := range repl.Entries {
			if e.Key.Text != "replication_factor" {
				continue
			}
			rf, err := strconv.Atoi(e.Value.Text)
			if err != nil || rf < 1 {
				return nil, &ParseError{Message: "invalid replication_factor", Position: e.Value.Pos, Token: p.curToken}
			}
			stmt.ReplicationFactor = rf
		}
	}
	return stmt, nil
}

// parseOptions parses an optional WITH name = literal [AND ...] clause.
func (p *Parser) parseOptions() (map[string]types.Literal, error) {
	if !p.curTokenIs(TokenWith) {
		return nil, nil
	}
	p.nextToken()

	opts := make(map[string]types.Literal)
	for {
		name, err := p.identifier("option name")
		if err != nil {
			return nil, err
		}
		if err := p.expect(TokenEq); err != nil {
			return nil, err
		}
		val, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		opts[name] = val
		if !p.curTokenIs(TokenAnd) {
			return opts, nil
		}
		p.nextToken()
	}
}

// parseFieldList parses ( name type, ... ) with an optional trailing comma.
// When allowKey is set, a column may carry PRIMARY KEY and a trailing
// PRIMARY KEY (col) clause is accepted.
func (p *Parser) parseFieldList(allowKey bool) ([]FieldSpec, string, error) {
	if err := p.expect(TokenLParen); err != nil {
		return nil, "", err
	}

	var fields []FieldSpec
	var key string
	for !p.curTokenIs(TokenRParen) {
		if allowKey && p.curTokenIs(TokenPrimary) {
			p.nextToken()
			if err := p.expect(TokenKey); err != nil {
				return nil, "", err
			}
			if err := p.expect(TokenLParen); err != nil {
				return nil, "", err
			}
			// PRIMARY KEY ((id)) is the same single partition key
			nested := p.curTokenIs(TokenLParen)
			if nested {
				p.nextToken()
			}
			col, err := p.identifier("primary key column")
			if err != nil {
				return nil, "", err
			}
			if nested {
				if err := p.expect(TokenRParen); err != nil {
					return nil, "", err
				}
			}
			if !p.curTokenIs(TokenRParen) {
				return nil, "", p.errorf("compound primary keys are not supported")
			}
			p.nextToken()
			if key != "" {
				return nil, "", p.errorf("multiple primary keys are not allowed")
			}
			key = col
		} else {
			name, err := p.identifier("field name")
			if err != nil {
				return nil, "", err
			}
			typ, err := p.parseType()
			if err != nil {
				return nil, "", err
			}
			fields = append(fields, FieldSpec{Name: name, Type: typ})

			if allowKey && p.curTokenIs(TokenPrimary) {
				p.nextToken()
				if err := p.expect(TokenKey); err != nil {
					return nil, "", err
				}
				if key != "" {
					return nil, "", p.errorf("multiple primary keys are not allowed")
				}
				key = name
			}
		}

		if !p.curTokenIs(TokenComma) {
			break
		}
		p.nextToken() // Skip comma; a trailing one is tolerated
	}

	if err := p.expect(TokenRParen); err != nil {
		return nil, "", err
	}
	return fields, key, nil
}

// parseCreateType parses CREATE TYPE [IF NOT EXISTS] name (fields).
func (p *Parser) parseCreateType() (*CreateTypeStatement, error) {
	p.nextToken() // Skip TYPE
	stmt := &CreateTypeStatement{}

	var err error
	if stmt.IfNotExists, err = p.ifNotExists(); err != nil {
		return nil, err
	}
	if stmt.Name, err = p.qualifiedName("type name"); err != nil {
		return nil, err
	}
	if stmt.Fields, _, err = p.parseFieldList(false); err != nil {
		return nil, err
	}
	return stmt, nil
}

// parseCreateTable parses CREATE TABLE [IF NOT EXISTS] name (columns) [WITH ...].
func (p *Parser) parseCreateTable() (*CreateTableStatement, error) {
	p.nextToken() // Skip TABLE
	stmt := &CreateTableStatement{}

	var err error
	if stmt.IfNotExists, err = p.ifNotExists(); err != nil {
		return nil, err
	}
	if stmt.Name, err = p.qualifiedName("table name"); err != nil {
		return nil, err
	}
	if stmt.Columns, stmt.PrimaryKey, err = p.parseFieldList(true); err != nil {
		return nil, err
	}
	if stmt.PrimaryKey == "" {
		return nil, p.errorf("table %s needs a PRIMARY KEY", stmt.Name)
	}
	if stmt.Options, err = p.parseOptions(); err != nil {
		return nil, err
	}
	return stmt, nil
}

// parseDrop parses DROP KEYSPACE | TYPE | TABLE [IF EXISTS] name.
func (p *Parser) parseDrop() (Statement, error) {
	kind := p.curToken.Type
	if kind != TokenKeyspace && kind != TokenType_ && kind != TokenTable {
		return nil, p.errorf("expected KEYSPACE, TYPE or TABLE after DROP")
	}
	p.nextToken()

	ifExists, err := p.ifExists()
	if err != nil {
		return nil, err
	}

	switch kind {
	case TokenKeyspace:
		name, err := p.identifier("keyspace name")
		if err != nil {
			return nil, err
		}
		return &DropKeyspaceStatement{Name: name, IfExists: ifExists}, nil
	case TokenType_:
		name, err := p.qualifiedName("type name")
		if err != nil {
			return nil, err
		}
		return &DropTypeStatement{Name: name, IfExists: ifExists}, nil
	default:
		name, err := p.qualifiedName("table name")
		if err != nil {
			return nil, err
		}
		return &DropTableStatement{Name: name, IfExists: ifExists}, nil
	}
}

// parseAlterType parses ALTER TYPE name ADD f type | RENAME TO n | RENAME a TO b [AND ...].
func (p *Parser) parseAlterType() (*AlterTypeStatement, error) {
	p.nextToken() // Skip TYPE
	name, err := p.qualifiedName("type name")
	if err != nil {
		return nil, err
	}
	stmt := &AlterTypeStatement{Name: name}

	switch {
	case p.curTokenIs(TokenAdd):
		p.nextToken()
		stmt.Action = AlterTypeAdd
		if stmt.Field.Name, err = p.identifier("field name"); err != nil {
			return nil, err
		}
		if stmt.Field.Type, err = p.parseType(); err != nil {
			return nil, err
		}
		return stmt, nil

	case p.curTokenIs(TokenRename):
		p.nextToken()
		if p.curTokenIs(TokenTo) {
			p.nextToken()
			stmt.Action = AlterTypeRename
			if stmt.NewName, err = p.identifier("new type name"); err != nil {
				return nil, err
			}
			return stmt, nil
		}

		stmt.Action = AlterTypeRenameFields
		for {
			from, err := p.identifier("field name")
			if err != nil {
				return nil, err
			}
			if err := p.expect(TokenTo); err != nil {
				return nil, err
			}
			to, err := p.identifier("new field name")
			if err != nil {
				return nil, err
			}
			stmt.Renames = append(stmt.Renames, FieldRename{From: from, To: to})
			if !p.curTokenIs(TokenAnd) {
				return stmt, nil
			}
			p.nextToken()
		}
	}
	return nil, p.errorf("expected ADD or RENAME")
}

// parseAlterTable parses ALTER TABLE name ADD column type.
func (p *Parser) parseAlterTable() (*AlterTableStatement, error) {
	p.nextToken() // Skip TABLE
	name, err := p.qualifiedName("table name")
	if err != nil {
		return nil, err
	}
	if err := p.expect(TokenAdd); err != nil {
		return nil, err
	}
	stmt := &AlterTableStatement{Name: name}
	if stmt.Column.Name, err = p.identifier("column name"); err != nil {
		return nil, err
	}
	if stmt.Column.Type, err = p.parseType(); err != nil {
		return nil, err
	}
	return stmt, nil
}

// parseInsert parses INSERT INTO name (columns) VALUES (literals).
func (p *Parser) parseInsert() (*InsertStatement, error) {
	p.nextToken() // Skip INSERT
	if err := p.expect(TokenInto); err != nil {
		return nil, err
	}
	table, err := p.qualifiedName("table name")
	if err != nil {
		return nil, err
	}
	stmt := &InsertStatement{Table: table}

	if err := p.expect(TokenLParen); err != nil {
		return nil, err
	}
	for {
		col, err := p.identifier("column name")
		if err != nil {
			return nil, err
		}
		stmt.Columns = append(stmt.Columns, col)
		if !p.curTokenIs(TokenComma) {
			break
		}
		p.nextToken()
	}
	if err := p.expect(TokenRParen); err != nil {
		return nil, err
	}

	if err := p.expect(TokenValues); err != nil {
		return nil, err
	}
	if err := p.expect(TokenLParen); err != nil {
		return nil, err
	}
	for {
		lit, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		stmt.Values = append(stmt.Values, lit)
		if !p.curTokenIs(TokenComma) {
			break
		}
		p.nextToken()
	}
	if err := p.expect(TokenRParen); err != nil {
		return nil, err
	}

	if len(stmt.Columns) != len(stmt.Values) {
		return nil, p.errorf("unmatched column names/values: %d columns, %d values", len(stmt.Columns), len(stmt.Values))
	}
	return stmt, nil
}

// parseUpdate parses UPDATE name SET assignments WHERE condition.
func (p *Parser) parseUpdate() (*UpdateStatement, error) {
	p.nextToken() // Skip UPDATE
	table, err := p.qualifiedName("table name")
	if err != nil {
		return nil, err
	}
	stmt := &UpdateStatement{Table: table}

	if err := p.expect(TokenSet); err != nil {
		return nil, err
	}
	for {
		a, err := p.parseAssignment()
		if err != nil {
			return nil, err
		}
		stmt.Assignments = append(stmt.Assignments, a)
		if !p.curTokenIs(TokenComma) {
			break
		}
		p.nextToken()
	}

	if err := p.expect(TokenWhere); err != nil {
		return nil, err
	}
	if stmt.Where, err = p.parseCondition(); err != nil {
		return nil, err
	}
	return stmt, nil
}

// parseAssignment parses col = literal or col = col + literal.
func (p *Parser) parseAssignment() (Assignment, error) {
	col, err := p.identifier("column name")
	if err != nil {
		return Assignment{}, err
	}
	if err := p.expect(TokenEq); err != nil {
		return Assignment{}, err
	}

	if p.isIdent() && p.peekTokenIs(TokenPlus) {
		ref, _ := p.identifier("column name")
		if ref != col {
			return Assignment{}, p.errorf("only %s = %s + value is supported", col, col)
		}
		p.nextToken() // Skip +
		val, err := p.parseLiteral()
		if err != nil {
			return Assignment{}, err
		}
		return Assignment{Column: col, Value: val, Append: true}, nil
	}

	val, err := p.parseLiteral()
	if err != nil {
		return Assignment{}, err
	}
	if p.curTokenIs(TokenPlus) {
		return Assignment{}, p.errorf("prepending to a collection is not supported")
	}
	return Assignment{Column: col, Value: val}, nil
}

// parseCondition parses col = literal.
func (p *Parser) parseCondition() (Condition, error) {
	col, err := p.identifier("column name")
	if err != nil {
		return Condition{}, err
	}
	if err := p.expect(TokenEq); err != nil {
		return Condition{}, err
	}
	val, err := p.parseLiteral()
	if err != nil {
		return Condition{}, err
	}
	return Condition{Column: col, Value: val}, nil
}

// parseSelect parses SELECT * | columns FROM name [WHERE condition].
func (p *Parser) parseSelect() (*SelectStatement, error) {
	p.nextToken() // Skip SELECT
	stmt := &SelectStatement{}

	if p.curTokenIs(TokenStar) {
		p.nextToken()
	} else {
		for {
			col, err := p.identifier("column name")
			if err != nil {
				return nil, err
			}
			stmt.Columns = append(stmt.Columns, col)
			if !p.curTokenIs(TokenComma) {
				break
			}
			p.nextToken()
		}
	}

	if err := p.expect(TokenFrom); err != nil {
		return nil, err
	}
	from, err := p.qualifiedName("table name")
	if err != nil {
		return nil, err
	}
	stmt.From = from

	if p.curTokenIs(TokenWhere) {
		p.nextToken()
		cond, err := p.parseCondition()
		if err != nil {
			return nil, err
		}
		stmt.Where = &cond
	}
	return stmt, nil
}

// typeParams is the number of parameters each parameterized type takes.
var typeParams = map[string]int{
	"list":   1,
	"set":    1,
	"map":    2,
	"frozen": 1,
}

// parseType parses name, ks.name, or name<params>. frozen<T> is returned as
// T since every user type value is stored whole.
func (p *Parser) parseType() (TypeExpr, error) {
	var name string
	if p.curTokenIs(TokenSet) {
		name = "set"
		p.nextToken()
	} else {
		q, err := p.qualifiedName("type")
		if err != nil {
			return TypeExpr{}, err
		}
		if q.Keyspace != "" {
			return TypeExpr{Keyspace: q.Keyspace, Name: q.Name}, nil
		}
		name = q.Name
	}

	want := typeParams[name]
	if !p.curTokenIs(TokenLt) {
		if want > 0 {
			return TypeExpr{}, p.errorf("%s requires type parameters", name)
		}
		return TypeExpr{Name: name}, nil
	}
	if want == 0 {
		return TypeExpr{}, p.errorf("type %s takes no parameters", name)
	}
	p.nextToken() // Skip <

	t := TypeExpr{Name: name}
	for {
		param, err := p.parseType()
		if err != nil {
			return TypeExpr{}, err
		}
		t.Params = append(t.Params, param)
		if !p.curTokenIs(TokenComma) {
			break
		}
		p.nextToken()
	}
	if err := p.expect(TokenGt); err != nil {
		return TypeExpr{}, err
	}
	if len(t.Params) != want {
		return TypeExpr{}, p.errorf("%s takes %d type parameters, got %d", name, want, len(t.Params))
	}
	if name == "frozen" {
		return t.Params[0], nil
	}
	return t, nil
}

// parseLiteral parses a constant, collection or user type literal.
func (p *Parser) parseLiteral() (types.Literal, error) {
	tok := p.curToken
	lit := types.Literal{Pos: tok.Pos, Text: tok.Literal}

	switch tok.Type {
	case TokenString:
		lit.Kind = types.LitString
	case TokenNumber:
		lit.Kind = numberKind(tok.Literal)
	case TokenMinus:
		p.nextToken()
		inner, err := p.parseLiteral()
		if err != nil {
			return types.Literal{}, err
		}
		if inner.Kind != types.LitInt && inner.Kind != types.LitFloat {
			return types.Literal{}, &ParseError{Message: "expected number after -", Position: inner.Pos, Token: tok}
		}
		inner.Text = "-" + inner.Text
		inner.Pos = tok.Pos
		return inner, nil
	case TokenUUID:
		lit.Kind = types.LitUUID
	case TokenBlob:
		lit.Kind = types.LitBlob
	case TokenTrue, TokenFalse:
		lit.Kind = types.LitBool
		lit.Text = strings.ToLower(tok.Literal)
	case TokenNull:
		lit.Kind = types.LitNull
		lit.Text = ""
	case TokenIdent:
		switch tok.Literal {
		case "nan":
			lit.Kind, lit.Text = types.LitFloat, "NaN"
		case "infinity":
			lit.Kind, lit.Text = types.LitFloat, "Inf"
		default:
			return types.Literal{}, p.errorf("expected a value")
		}
	case TokenLBracket:
		return p.parseListLiteral()
	case TokenLBrace:
		return p.parseBraceLiteral()
	default:
		return types.Literal{}, p.errorf("expected a value")
	}

	p.nextToken()
	return lit, nil
}

func numberKind(text string) types.LiteralKind {
	if strings.ContainsAny(text, ".eE") {
		return types.LitFloat
	}
	return types.LitInt
}

// parseListLiteral parses [a, b, ...].
func (p *Parser) parseListLiteral() (types.Literal, error) {
	lit := types.Literal{Kind: types.LitList, Pos: p.curToken.Pos}
	p.nextToken() // Skip [

	for !p.curTokenIs(TokenRBracket) {
		elem, err := p.parseLiteral()
		if err != nil {
			return types.Literal{}, err
		}
		lit.Elems = append(lit.Elems, elem)
		if !p.curTokenIs(TokenComma) {
			break
		}
		p.nextToken()
	}
	if err := p.expect(TokenRBracket); err != nil {
		return types.Literal{}, err
	}
	return lit, nil
}

// parseBraceLiteral parses {}, a set {a, b}, a map {k: v}, or a user type
// value {field: v}. The first element decides which.
func (p *Parser) parseBraceLiteral() (types.Literal, error) {
	lit := types.Literal{Kind: types.LitBrace, Pos: p.curToken.Pos}
	p.nextToken() // Skip {

	if p.curTokenIs(TokenRBrace) {
		p.nextToken()
		return lit, nil
	}

	fields := p.isIdent() && p.peekTokenIs(TokenColon)
	entries := fields
	for i := 0; ; i++ {
		var key types.Literal
		if fields {
			if !p.isIdent() {
				return types.Literal{}, p.errorf("expected field name")
			}
			key = types.Literal{Kind: types.LitIdent, Text: p.curToken.Literal, Pos: p.curToken.Pos}
			if unreserved[p.curToken.Type] {
				key.Text = strings.ToLower(key.Text)
			}
			p.nextToken()
		} else {
			var err error
			if key, err = p.parseLiteral(); err != nil {
				return types.Literal{}, err
			}
			if i == 0 {
				entries = p.curTokenIs(TokenColon)
			}
		}

		if entries {
			if err := p.expect(TokenColon); err != nil {
				return types.Literal{}, err
			}
			val, err := p.parseLiteral()
			if err != nil {
				return types.Literal{}, err
			}
			lit.Entries = append(lit.Entries, types.LiteralEntry{Key: key, Value: val})
		} else {
			lit.Elems = append(lit.Elems, key)
		}

		if !p.curTokenIs(TokenComma) {
			break
		}
		p.nextToken()
	}

	if err := p.expect(TokenRBrace); err != nil {
		return types.Literal{}, err
	}
	return lit, nil
}
