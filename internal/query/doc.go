// Package query implements the recipient query language: a small grammar
// for describing a set of nations by combining named lists, region
// membership, World Assembly rolls, founding activity and per-nation
// attributes with add/remove/limit set operations.
//
//	translation-unit = group-body            (implicit outer parens)
//	group            = "(" group-body ")"
//	group-body       = command+
//	command          = [action] (group | primitive) ";"
//	action           = "+" | "-" | "/"       (default "+")
//	primitive        = category "[" arg ("," arg)* "]"
//
// Whitespace is insignificant. Parsing is recursive descent; every command
// carries a 1-based position path used only for diagnostics.
package query
