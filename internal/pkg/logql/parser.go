// Package logql implements the filter language accepted by GET /api/logs?q=.
//
//	anomaly_type:network_error AND NOT severity:low
//	(threat:true OR "segfault") AND confidence>=0.8
package logql

import (
	"fmt"
	"strconv"
)

// Parser parses queries into an AST.
type Parser struct {
	lexer   *Lexer
	current Token
}

// Parse parses the input string and returns the AST root node.
// An empty query yields a nil node, which matches everything.
func Parse(input string) (Node, error) {
	p := &Parser{lexer: NewLexer(input)}
	p.advance()
	if p.current.Type == TokenEOF {
		return nil, nil
	}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.current.Type != TokenEOF {
		return nil, fmt.Errorf("unexpected %q after expression", p.current.Value)
	}
	return node, nil
}

func (p *Parser) advance() {
	p.current = p.lexer.NextToken()
}

// parseOr handles OR expressions (lowest precedence).
func (p *Parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}

	for p.current.Type == TokenOr {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: "OR", Left: left, Right: right}
	}

	return left, nil
}

// parseAnd handles AND expressions.
func (p *Parser) parseAnd() (Node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}

	for p.current.Type == TokenAnd {
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: "AND", Left: left, Right: right}
	}

	return left, nil
}

// parseNot handles NOT expressions.
func (p *Parser) parseNot() (Node, error) {
	if p.current.Type == TokenNot {
		p.advance()
		expr, err := p.parseNot() // NOT is right-associative
		if err != nil {
			return nil, err
		}
		return NotExpr{Expr: expr}, nil
	}
	return p.parsePrimary()
}

// parsePrimary handles (expr), key:value, key<op>number and "string".
func (p *Parser) parsePrimary() (Node, error) {
	switch p.current.Type {
	case TokenLParen:
		p.advance()
		expr, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.current.Type != TokenRParen {
			return nil, fmt.Errorf("expected ')' but got %q", p.current.Value)
		}
		p.advance()
		return expr, nil

	case TokenString:
		value := p.current.Value
		p.advance()
		return MatchExpr{Key: "", Value: value, Op: "CONTAINS"}, nil

	case TokenIdent:
		key := p.current.Value
		p.advance()

		switch p.current.Type {
		case TokenColon:
			p.advance()
			return p.parseValue(key, "=")
		case TokenNeq:
			p.advance()
			return p.parseValue(key, "!=")
		case TokenGt, TokenGte, TokenLt, TokenLte:
			op := p.current.Value
			p.advance()
			return p.parseNumber(key, op)
		}

		// Bare identifier: full-text search
		return MatchExpr{Key: "", Value: key, Op: "CONTAINS"}, nil

	case TokenEOF:
		return nil, fmt.Errorf("unexpected end of query")

	default:
		return nil, fmt.Errorf("unexpected token %q", p.current.Value)
	}
}

// parseValue parses the value part after key: or key!=
func (p *Parser) parseValue(key, op string) (Node, error) {
	switch p.current.Type {
	case TokenString, TokenIdent:
		value := p.current.Value
		p.advance()
		return MatchExpr{Key: key, Value: value, Op: op}, nil
	default:
		return nil, fmt.Errorf("expected value after '%s%s'", key, op)
	}
}

func (p *Parser) parseNumber(key, op string) (Node, error) {
	if p.current.Type != TokenIdent {
		return nil, fmt.Errorf("expected number after '%s%s'", key, op)
	}
	v, err := strconv.ParseFloat(p.current.Value, 64)
	if err != nil {
		return nil, fmt.Errorf("expected number after '%s%s', got %q", key, op, p.current.Value)
	}
	p.advance()
	return CompareExpr{Key: key, Op: op, Value: v}, nil
}
