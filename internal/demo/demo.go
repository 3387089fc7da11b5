// Package demo declares the person/computer/tag resources served by the CLI and
// used as fixtures by the package tests.
package demo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/conduit-lang/jsonapi/internal/jsonapi/schema"
	"github.com/conduit-lang/jsonapi/internal/orm/query"
	ormschema "github.com/conduit-lang/jsonapi/internal/orm/schema"
	"github.com/conduit-lang/jsonapi/internal/orm/session"
)

// Models returns the persistence models
func Models() *ormschema.Registry {
	return ormschema.NewRegistry().MustRegister(
		ormschema.NewModel("Person", "people").
			AddColumn(&ormschema.Column{Name: "person_id", Type: ormschema.TypeInt, Primary: true}).
			AddColumn(&ormschema.Column{Name: "name", Type: ormschema.TypeString}).
			AddColumn(&ormschema.Column{Name: "age", Type: ormschema.TypeInt, Nullable: true}).
			AddColumn(&ormschema.Column{Name: "birth_date", Type: ormschema.TypeDate, Nullable: true}).
			AddColumn(&ormschema.Column{Name: "address", Type: ormschema.TypeJSON, Nullable: true}).
			AddRelationship(&ormschema.Relationship{Name: "computers", Type: ormschema.HasMany,
				Target: "Computer", ForeignKey: "person_id", OrderBy: "serial"}),
		ormschema.NewModel("Computer", "").
			AddColumn(&ormschema.Column{Name: "id", Type: ormschema.TypeInt, Primary: true}).
			AddColumn(&ormschema.Column{Name: "serial", Type: ormschema.TypeString}).
			AddColumn(&ormschema.Column{Name: "person_id", Type: ormschema.TypeInt, Nullable: true}).
			AddRelationship(&ormschema.Relationship{Name: "person", Type: ormschema.BelongsTo,
				Target: "Person", ForeignKey: "person_id"}).
			AddRelationship(&ormschema.Relationship{Name: "tags", Type: ormschema.ManyToMany, Target: "Tag",
				JoinTable: "computer_tags", JoinForeignKey: "computer_id", AssociationKey: "tag_id", OrderBy: "label"}),
		ormschema.NewModel("Tag", "").
			AddColumn(&ormschema.Column{Name: "id", Type: ormschema.TypeInt, Primary: true}).
			AddColumn(&ormschema.Column{Name: "label", Type: ormschema.TypeString}).
			AddRelationship(&ormschema.Relationship{Name: "computers", Type: ormschema.ManyToMany, Target: "Computer",
				JoinTable: "computer_tags", JoinForeignKey: "tag_id", AssociationKey: "computer_id", OrderBy: "serial"}),
	)
}

// Schemas returns the resource schemas bound to models
func Schemas(models *ormschema.Registry) *schema.Registry {
	person, _ := models.Get("Person")
	computer, _ := models.Get("Computer")
	tag, _ := models.Get("Tag")

	return schema.NewRegistry().MustRegister(
		schema.New("person", person).
			Attribute("name", "").
			Attribute("age", "").
			Attribute("birth_date", "").
			Nested("address", "address", false).
			Relationship("computers", "computer", true),
		schema.New("computer", computer).
			Attribute("serial", "").
			Add(schema.Field{Name: "owner", Kind: schema.Relationship, Attribute: "person", Type: "person"}).
			Relationship("tags", "tag", true),
		schema.New("tag", tag).
			Attribute("label", "").
			Relationship("computers", "computer", true),
		schema.NewNested("address", nil).
			Attribute("street", "").
			Attribute("city", ""),
	)
}

// CreateTables creates the demo tables
func CreateTables(ctx context.Context, db *sql.DB, dialect query.Dialect) error {
	key := "INTEGER PRIMARY KEY"
	if dialect.Name == query.Postgres.Name {
		key = "SERIAL PRIMARY KEY"
	}

	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS people (
			person_id %s,
			name TEXT NOT NULL UNIQUE,
			age INTEGER,
			birth_date DATE,
			address TEXT
		)`, key),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS computers (
			id %s,
			serial TEXT NOT NULL UNIQUE,
			person_id INTEGER REFERENCES people (person_id)
		)`, key),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS tags (
			id %s,
			label TEXT NOT NULL UNIQUE
		)`, key),
		`CREATE TABLE IF NOT EXISTS computer_tags (
			computer_id INTEGER NOT NULL REFERENCES computers (id),
			tag_id INTEGER NOT NULL REFERENCES tags (id),
			PRIMARY KEY (computer_id, tag_id)
		)`,
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create demo tables: %w", err)
		}
	}
	return nil
}

// Seed inserts the demo rows in one unit of work. On an empty database the
// people get keys 1 (Jane), 2 (Jan) and 3 (Bob), the computers 1 (A1, Jane),
// 2 (B2, Jane), 3 (C3, Bob) and 4 (D4, unowned), the tags 1 (server) and 2 (laptop).
func Seed(ctx context.Context, s *session.Session) error {
	models := s.Models()
	person, _ := models.Get("Person")
	computer, _ := models.Get("Computer")
	tag, _ := models.Get("Tag")

	record := func(m *ormschema.Model, values map[string]interface{}) (*ormschema.Record, error) {
		rec := ormschema.NewRecord(m)
		for _, col := range m.ColumnNames() {
			if v, ok := values[col]; ok {
				if err := rec.Set(col, v); err != nil {
					return nil, err
				}
			}
		}
		return rec, nil
	}

	rows := []struct {
		model  *ormschema.Model
		values map[string]interface{}
	}{
		{person, map[string]interface{}{"name": "Jane", "age": 20, "birth_date": "2004-03-01",
			"address": map[string]interface{}{"street": "1 Rue A", "city": "Paris"}}},
		{person, map[string]interface{}{"name": "Jan", "age": 16, "birth_date": "2008-07-14",
			"address": map[string]interface{}{"street": "2 Quai B", "city": "Lyon"}}},
		{person, map[string]interface{}{"name": "Bob", "age": 30, "birth_date": "1994-11-30"}},
		{tag, map[string]interface{}{"label": "server"}},
		{tag, map[string]interface{}{"label": "laptop"}},
		{computer, map[string]interface{}{"serial": "A1"}},
		{computer, map[string]interface{}{"serial": "B2"}},
		{computer, map[string]interface{}{"serial": "C3"}},
		{computer, map[string]interface{}{"serial": "D4"}},
	}

	recs := make([]*ormschema.Record, len(rows))
	for i, row := range rows {
		rec, err := record(row.model, row.values)
		if err != nil {
			return err
		}
		recs[i] = rec
	}
	jane, bob := recs[0], recs[2]
	server, laptop := recs[3], recs[4]
	a1, b2, c3 := recs[5], recs[6], recs[7]

	a1.SetRelated("person", jane)
	b2.SetRelated("person", jane)
	c3.SetRelated("person", bob)
	a1.SetRelated("tags", []*ormschema.Record{server, laptop})
	c3.SetRelated("tags", []*ormschema.Record{server})

	for _, rec := range recs {
		s.Add(rec)
	}
	return s.Commit(ctx)
}
