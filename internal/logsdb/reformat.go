// Copyright 2022-, Semiotic AI, Inc.
// SPDX-License-Identifier: Apache-2.0

package logsdb

import (
	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
	"github.com/graphql-go/graphql/language/printer"
	"github.com/graphql-go/graphql/language/source"
	"github.com/pkg/errors"
)

// ReformatQuery strips the variable definitions off a logged query
// skeleton and pretty-prints its body, so that the same selection set
// always yields the same Agora entry text.
func ReformatQuery(query string) (string, error) {
	doc, err := parser.Parse(parser.ParseParams{
		Source: source.NewSource(&source.Source{Body: []byte(query)}),
	})
	if err != nil {
		return "", errors.Wrap(err, "parsing query skeleton")
	}
	if len(doc.Definitions) != 1 {
		return "", errors.Errorf("expected a single root query, got %d definitions", len(doc.Definitions))
	}
	op, ok := doc.Definitions[0].(*ast.OperationDefinition)
	if !ok {
		return "", errors.Errorf("root definition is a %T, not an operation", doc.Definitions[0])
	}

	body, ok := printer.Print(op.SelectionSet).(string)
	if !ok {
		return "", errors.New("printing query selection set")
	}
	return "query " + body, nil
}
