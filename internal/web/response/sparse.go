package response

import (
	"github.com/conduit-lang/jsonapi/internal/jsonapi/schema"
)

// fieldset returns the selector of the fields rendered for resources of schema s.
// The fieldsets map uses resource types as keys and field names as values.
//
// A type absent from fieldsets keeps every field. The identifier is always kept,
// and so are the relationships named by the first segment of an include path so
// the linkage of included objects stays reachable. The parser has already
// rejected names the schema does not declare.
func fieldset(s *schema.Schema, fieldsets map[string][]string, include []string) func(string) bool {
	requested, ok := fieldsets[s.Type]
	if !ok {
		return func(string) bool { return true }
	}

	allowed := make(map[string]bool, len(requested)+1)
	for _, name := range s.Only(requested, include) {
		allowed[name] = true
	}
	return func(name string) bool {
		return allowed[name]
	}
}
