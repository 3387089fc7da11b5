package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/conduit-lang/jsonapi/internal/cli/ui"
	"github.com/conduit-lang/jsonapi/internal/demo"
	"github.com/conduit-lang/jsonapi/internal/orm/query"
	"github.com/conduit-lang/jsonapi/internal/web/router"
	"github.com/spf13/cobra"
)

// NewRoutesCommand creates the routes command
func NewRoutesCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "List the served resource types and HTTP routes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			return listRoutes(cmd.OutOrStdout(), cfg.Server.APIPrefix, flags.noColor)
		},
	}
}

func listRoutes(out io.Writer, prefix string, noColor bool) error {
	models := demo.Models()
	schemas := demo.Schemas(models)

	types := ui.NewTable(out, noColor, "TYPE", "MODEL", "FIELDS")
	for _, typ := range schemas.Types() {
		s, err := schemas.SchemaForType(typ)
		if err != nil {
			return err
		}
		model := "(nested)"
		if s.Model != nil {
			model = s.Model.Name
		}
		types.AddRow(s.Type, model, strings.Join(s.FieldNames(), ", "))
	}
	types.Render()
	fmt.Fprintln(out)

	// the router is only walked; no request reaches the database
	r := router.New(nil, query.SQLite, models, schemas, router.WithPrefix(prefix))
	routes := ui.NewTable(out, noColor, "METHOD", "PATTERN")
	for _, route := range r.Routes() {
		routes.AddRow(route.Method, route.Pattern)
	}
	routes.Render()
	return nil
}
