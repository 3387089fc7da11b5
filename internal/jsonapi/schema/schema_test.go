package schema

import (
	"testing"

	"github.com/conduit-lang/jsonapi/internal/jsonapi/apierr"
	ormschema "github.com/conduit-lang/jsonapi/internal/orm/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry() *Registry {
	person := ormschema.NewModel("Person", "").
		AddColumn(&ormschema.Column{Name: "person_id", Type: ormschema.TypeInt, Primary: true}).
		AddColumn(&ormschema.Column{Name: "full_name", Type: ormschema.TypeString}).
		AddColumn(&ormschema.Column{Name: "address", Type: ormschema.TypeJSON})

	return NewRegistry().MustRegister(
		New("person", person).
			Attribute("name", "full_name").
			Nested("address", "address", false).
			Relationship("computers", "computer", true),
		New("computer", nil).
			Attribute("serial", "").
			Add(Field{Name: "owner", Kind: Relationship, Attribute: "person", Type: "person"}),
		NewNested("address", nil).
			Attribute("city", ""),
	)
}

func TestStorageField(t *testing.T) {
	person, err := testRegistry().SchemaForType("person")
	require.NoError(t, err)

	name, err := person.StorageField("name")
	require.NoError(t, err)
	assert.Equal(t, "full_name", name)

	id, err := person.StorageField("id")
	require.NoError(t, err)
	assert.Equal(t, "person_id", id)

	computers, err := person.StorageField("computers")
	require.NoError(t, err)
	assert.Equal(t, "computers", computers)

	_, err = person.StorageField("missing")
	assert.ErrorIs(t, err, ErrUnknownField)
	assert.Contains(t, err.Error(), "PersonSchema has no attribute missing")

	field, err := person.SchemaField("full_name")
	require.NoError(t, err)
	assert.Equal(t, "name", field)
}

func TestClassification(t *testing.T) {
	reg := testRegistry()
	person, _ := reg.SchemaForType("person")

	assert.True(t, person.IsRelationship("computers"))
	assert.False(t, person.IsRelationship("address"))
	assert.True(t, person.IsNested("address"))
	assert.False(t, person.IsNested("name"))
	assert.False(t, person.IsRelationship("missing"))

	assert.Equal(t, []string{"computers"}, person.Relationships())
	assert.Equal(t, []string{"address"}, person.NestedFields())
	assert.Equal(t, []string{"id", "name", "address", "computers"}, person.FieldNames())
}

func TestRelatedSchema(t *testing.T) {
	reg := testRegistry()
	person, _ := reg.SchemaForType("person")
	computer, _ := reg.SchemaForType("computer")

	related, err := reg.RelatedSchema(person, "computers")
	require.NoError(t, err)
	assert.Same(t, computer, related)

	nested, err := reg.RelatedSchema(person, "address")
	require.NoError(t, err)
	assert.Equal(t, "address", nested.Type)
	assert.False(t, nested.Has("id"))

	_, err = reg.RelatedSchema(person, "name")
	assert.ErrorIs(t, err, ErrNotRelated)

	_, err = reg.SchemaForType("laptop")
	assert.ErrorIs(t, err, ErrSchemaNotFound)

	assert.NoError(t, reg.Validate())
	reg.MustRegister(New("broken", nil).Relationship("ghost", "ghost", false))
	assert.ErrorIs(t, reg.Validate(), ErrSchemaNotFound)
}

func TestRegisterDuplicate(t *testing.T) {
	reg := testRegistry()
	assert.ErrorIs(t, reg.Register(New("person", nil)), ErrDuplicateSchema)
	assert.Panics(t, func() { reg.MustRegister(New("person", nil)) })
}

func TestValidateInclude(t *testing.T) {
	reg := testRegistry()
	person, _ := reg.SchemaForType("person")

	assert.NoError(t, reg.ValidateInclude(person, []string{"computers", "computers.owner", "computers.owner.computers"}))

	err := reg.ValidateInclude(person, []string{"computers.brand"})
	assert.ErrorIs(t, err, apierr.ErrInvalidInclude)
	assert.Contains(t, err.Error(), "ComputerSchema has no attribute brand")

	err = reg.ValidateInclude(person, []string{"name"})
	assert.ErrorIs(t, err, apierr.ErrInvalidInclude)
	assert.Contains(t, err.Error(), "name is not a relationship attribute of PersonSchema")
}

func TestOnly(t *testing.T) {
	person, _ := testRegistry().SchemaForType("person")

	assert.Nil(t, person.Only(nil, nil))
	assert.Equal(t, []string{"id", "name"}, person.Only([]string{"name", "unknown"}, nil))
	assert.Equal(t, []string{"id"}, person.Only([]string{}, nil))
	assert.Equal(t, []string{"id", "name", "computers"}, person.Only([]string{"name"}, []string{"computers.owner"}))
}
