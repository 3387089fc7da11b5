package commands

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/conduit-lang/jsonapi/internal/cli/ui"
	"github.com/conduit-lang/jsonapi/internal/demo"
	"github.com/conduit-lang/jsonapi/internal/jsonapi/apierr"
	"github.com/conduit-lang/jsonapi/internal/jsonapi/datalayer"
	"github.com/conduit-lang/jsonapi/internal/jsonapi/querystring"
	"github.com/conduit-lang/jsonapi/internal/jsonapi/schema"
	"github.com/conduit-lang/jsonapi/internal/orm/query"
	"github.com/conduit-lang/jsonapi/internal/orm/session"
	"github.com/spf13/cobra"
)

// errReported marks an error already written to the user
var errReported = errors.New("explain failed")

// NewExplainCommand creates the explain command
func NewExplainCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "explain <type> [query-string]",
		Short: "Show the SQL a collection request compiles to",
		Long: `Parse a JSON:API query string against a demo resource type and print
the SQL and bound arguments of the page query and of the count query.
No database connection is made.`,
		Example: `  jsonapi explain person 'filter[name][like]=Ja%&sort=-age&page[size]=10'
  jsonapi explain computer 'filter=[{"name":"owner__name","op":"eq","val":"Jane"}]&include=tags'`,
		Args: cobra.RangeArgs(1, 2),
		ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			if len(args) > 0 {
				return nil, cobra.ShellCompDirectiveNoFileComp
			}
			return demo.Schemas(demo.Models()).Types(), cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			dialect, err := query.DialectFor(cfg.Database.Driver)
			if err != nil {
				return err
			}
			raw := ""
			if len(args) == 2 {
				raw = args[1]
			}
			return explain(cmd.OutOrStdout(), dialect, cfg.QueryConfig(), args[0], raw, flags.noColor)
		},
	}
}

func explain(out io.Writer, dialect query.Dialect, qc querystring.Config, typ, raw string, noColor bool) error {
	models := demo.Models()
	schemas := demo.Schemas(models)

	s, err := schemas.SchemaForType(typ)
	if errors.Is(err, schema.ErrSchemaNotFound) {
		fmt.Fprint(out, ui.UnknownTypeError(typ, schemas.Types(), noColor))
		return errReported
	}
	if err != nil {
		return err
	}

	values, err := url.ParseQuery(strings.TrimPrefix(raw, "?"))
	if err != nil {
		return fmt.Errorf("invalid query string: %w", err)
	}
	params, err := querystring.NewParser(schemas, qc).Parse(values, s)
	if err != nil {
		return reportQueryError(out, err, noColor)
	}

	layer, err := datalayer.New(session.New(nil, dialect, models), s, schemas)
	if err != nil {
		return err
	}
	q, err := layer.Compile(params, nil, nil)
	if err != nil {
		return reportQueryError(out, err, noColor)
	}

	pageSQL, pageArgs, err := datalayer.Paginate(q, params.Page).ToSQL()
	if err != nil {
		return err
	}
	countSQL, countArgs, err := q.CountSQL()
	if err != nil {
		return err
	}

	summary := ui.NewSection(out, fmt.Sprintf("%s (%s)", s.Type, dialect.Name), noColor)
	if params.Page.Disabled() {
		summary.AddLine("page:    disabled")
	} else {
		summary.AddLine("page:    number %d, size %d", params.Page.Number, params.Page.Size)
	}
	if len(params.Include) > 0 {
		summary.AddLine("include: %s", strings.Join(params.Include, ", "))
	}
	summary.Render()

	renderStatement(out, "Page query", pageSQL, pageArgs, noColor)
	renderStatement(out, "Count query", countSQL, countArgs, noColor)
	return nil
}

func renderStatement(out io.Writer, title, sql string, args []interface{}, noColor bool) {
	section := ui.NewSection(out, title, noColor)
	section.AddLine("%s", sql)
	for i, arg := range args {
		section.AddLine("$%d = %#v", i+1, arg)
	}
	section.Render()
}

// reportQueryError prints the detail of a rejected query string
func reportQueryError(out io.Writer, err error, noColor bool) error {
	apiErr, ok := apierr.As(err)
	if !ok {
		return err
	}
	message := apiErr.Title
	if apiErr.Detail != "" {
		message += " " + apiErr.Detail
	}
	fmt.Fprint(out, ui.QueryError(message, noColor))
	return errReported
}
