package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AshkanYarmoradi/go-stoat"
	"github.com/AshkanYarmoradi/go-stoat/cli/styles"
	"github.com/AshkanYarmoradi/go-stoat/cli/ui"
)

// NewErrorsCommand creates the errors command
func NewErrorsCommand() *cobra.Command {
	var domain string

	cmd := &cobra.Command{
		Use:   "errors [internal-code]",
		Short: "List the error catalog",
		Long: `List the registered error codes, or explain a single internal code.

Examples:
  stoat errors                       # Every registered code
  stoat errors --domain generic      # Codes of one domain
  stoat errors 13                    # Look up internal code 13`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("internal code must be a number: %q", args[0])
				}
				code, ok := stoat.LookupCode(n)
				if !ok {
					return fmt.Errorf("no error code %d is registered", n)
				}
				fmt.Fprintln(out, styles.FormatKeyValue("Code", code.Code()))
				fmt.Fprintln(out, styles.FormatKeyValue("Internal code", strconv.Itoa(code.InternalCode())))
				fmt.Fprintln(out, styles.FormatKeyValue("Domain", code.Domain))
				fmt.Fprintln(out, styles.FormatKeyValue("HTTP status", strconv.Itoa(code.HTTPStatus)))
				return nil
			}

			table := ui.NewTable("Internal", "Code", "Domain", "HTTP")
			for _, c := range stoat.Catalog() {
				if domain != "" && !strings.EqualFold(c.Domain, domain) {
					continue
				}
				table.AddRow(strconv.Itoa(c.InternalCode()), c.Code(), c.Domain, strconv.Itoa(c.HTTPStatus))
			}
			if table.Len() == 0 {
				return fmt.Errorf("no error codes registered for domain %q", domain)
			}
			fmt.Fprintln(out, table.Render())
			return nil
		},
	}

	cmd.Flags().StringVar(&domain, "domain", "", "Only list codes of this domain")
	return cmd
}
