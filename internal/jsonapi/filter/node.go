// Package filter decodes JSON:API filter trees and resolves them into SQL predicates.
//
// A tree is made of four node types. A Leaf compares a field with a literal, with
// another column or, for relationships, with a nested tree evaluated on the related
// rows. And, Or and Not combine child nodes.
package filter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/conduit-lang/jsonapi/internal/jsonapi/apierr"
)

// ErrSyntax is returned when a filter parameter is not valid JSON
var ErrSyntax = errors.New("filter syntax error")

// Node is a filter tree node: *Leaf, *And, *Or or *Not
type Node interface {
	isNode()
}

// Leaf compares one field
type Leaf struct {
	// Name is the schema field, optionally followed by "__" and a field of the
	// related or nested object
	Name string
	Op   string

	// Value is the literal compared against; HasValue distinguishes an explicit null
	Value    interface{}
	HasValue bool

	// Field names a column of the same row to compare against instead of a literal
	Field string

	// Sub is a tree evaluated against the related rows
	Sub Node
}

// And matches when every child matches
type And struct {
	Nodes []Node
}

// Or matches when any child matches
type Or struct {
	Nodes []Node
}

// Not matches when its child does not
type Not struct {
	Node Node
}

func (*Leaf) isNode() {}
func (*And) isNode()  {}
func (*Or) isNode()   {}
func (*Not) isNode()  {}

// Parse decodes a filter parameter holding one node or an array of nodes
func Parse(data []byte) ([]Node, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data", ErrSyntax)
	}

	switch v := raw.(type) {
	case map[string]interface{}:
		node, err := Decode(v)
		if err != nil {
			return nil, err
		}
		return []Node{node}, nil
	case []interface{}:
		return decodeList(v)
	default:
		return nil, apierr.InvalidFilters("Filter must be an object or an array of objects")
	}
}

// Decode converts a generic JSON value into a node
func Decode(raw interface{}) (Node, error) {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil, apierr.InvalidFilters(fmt.Sprintf("Filter node must be an object, got %s", describe(raw)))
	}

	var composite []string
	for _, key := range []string{"and", "or", "not"} {
		if _, ok := m[key]; ok {
			composite = append(composite, key)
		}
	}
	switch {
	case len(composite) > 1:
		return nil, apierr.InvalidFilters("Filter node must use exactly one of " + strings.Join(composite, ", "))
	case len(composite) == 1 && len(m) > 1:
		return nil, apierr.InvalidFilters(fmt.Sprintf("Filter node with %s can't have other keys", composite[0]))
	case len(composite) == 0:
		return decodeLeaf(m)
	}

	switch composite[0] {
	case "and", "or":
		list, ok := m[composite[0]].([]interface{})
		if !ok {
			return nil, apierr.InvalidFilters(fmt.Sprintf("%s must be an array of filters", composite[0]))
		}
		nodes, err := decodeList(list)
		if err != nil {
			return nil, err
		}
		if composite[0] == "and" {
			return &And{Nodes: nodes}, nil
		}
		return &Or{Nodes: nodes}, nil
	default:
		child := m["not"]
		if list, ok := child.([]interface{}); ok {
			if len(list) != 1 {
				return nil, apierr.InvalidFilters("not requires exactly one filter")
			}
			child = list[0]
		}
		node, err := Decode(child)
		if err != nil {
			return nil, err
		}
		return &Not{Node: node}, nil
	}
}

func decodeList(list []interface{}) ([]Node, error) {
	nodes := make([]Node, 0, len(list))
	for _, item := range list {
		node, err := Decode(item)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

func decodeLeaf(m map[string]interface{}) (*Leaf, error) {
	leaf := &Leaf{}
	if name, ok := m["name"]; ok {
		s, ok := name.(string)
		if !ok {
			return nil, apierr.InvalidFilters("Filter name must be a string")
		}
		leaf.Name = s
	}
	if op, ok := m["op"]; ok {
		s, ok := op.(string)
		if !ok {
			return nil, apierr.InvalidFilters("Filter op must be a string")
		}
		leaf.Op = s
	}
	if field, ok := m["field"]; ok && field != nil {
		s, ok := field.(string)
		if !ok {
			return nil, apierr.InvalidFilters("Filter field must be a string")
		}
		leaf.Field = s
	}
	if val, ok := m["val"]; ok {
		if sub, ok := val.(map[string]interface{}); ok {
			node, err := Decode(sub)
			if err != nil {
				return nil, err
			}
			leaf.Sub = node
		} else {
			leaf.Value = normalizeNumbers(val)
			leaf.HasValue = true
		}
	}
	return leaf, nil
}

// normalizeNumbers turns json.Number into int64 when integral and float64 otherwise
func normalizeNumbers(v interface{}) interface{} {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		f, _ := t.Float64()
		return f
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = normalizeNumbers(item)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, item := range t {
			out[k] = normalizeNumbers(item)
		}
		return out
	default:
		return v
	}
}

func describe(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case []interface{}:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	default:
		return "number"
	}
}
