package commands

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/AshkanYarmoradi/go-stoat"
	"github.com/AshkanYarmoradi/go-stoat/adapters"
	"github.com/AshkanYarmoradi/go-stoat/cli/config"
	"github.com/AshkanYarmoradi/go-stoat/cli/styles"
	"github.com/AshkanYarmoradi/go-stoat/cli/ui"
)

// diagnoseTimeout bounds every check that talks to the store.
const diagnoseTimeout = 5 * time.Second

// probeStream is read by the schema check. It never needs to exist.
const probeStream = "StoatDiagnose-probe"

// NewDiagnoseCommand creates the diagnose command
func NewDiagnoseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "diagnose",
		Short: "Run diagnostic checks",
		Long: `Run diagnostic checks on your stoat setup.

This command verifies:
  • Configuration file validity
  • Event store connectivity
  • Event store schema
  • The error catalog`,
		Aliases: []string{"diag", "doctor"},
		RunE:    runDiagnose,
	}
}

func runDiagnose(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, styles.Title.Render(styles.IconHealth+" Running Diagnostics"))

	d := newDiagnosis(cmd)
	defer d.Close()

	results := d.Run(out)

	fmt.Fprintln(out)
	fmt.Fprintln(out, ui.Divider(50))
	fmt.Fprintln(out)

	var recommendations []string
	for _, r := range results {
		if r.Recommendation != "" {
			recommendations = append(recommendations, r.Recommendation)
		}
	}
	if len(recommendations) == 0 {
		fmt.Fprintln(out, styles.FormatSuccess("All checks passed! Your stoat setup is healthy."))
		return nil
	}

	fmt.Fprintln(out, styles.FormatWarning("Some checks failed or have warnings."))
	fmt.Fprintln(out)
	fmt.Fprintln(out, styles.Subtitle.Render("Recommendations:"))
	fmt.Fprint(out, ui.ListItems(recommendations))
	return nil
}

// CheckStatus represents the status of a diagnostic check
type CheckStatus int

const (
	StatusOK CheckStatus = iota
	StatusWarning
	StatusError
)

// String returns the badge label for the status.
func (s CheckStatus) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusWarning:
		return "WARNING"
	default:
		return "FAILED"
	}
}

// CheckResult represents the result of a diagnostic check
type CheckResult struct {
	Name           string
	Status         CheckStatus
	Message        string
	Recommendation string
}

func newCheckResult(name string, status CheckStatus, message string) CheckResult {
	return CheckResult{Name: name, Status: status, Message: message}
}

func (r CheckResult) withRecommendation(rec string) CheckResult {
	r.Recommendation = rec
	return r
}

// DiagnosticCheck represents a diagnostic check function
type DiagnosticCheck struct {
	Name  string
	Check func(d *diagnosis) CheckResult
}

// diagnosis carries what earlier checks learned to later ones.
type diagnosis struct {
	cmd     *cobra.Command
	cfg     *config.Config
	cfgErr  error
	session *session
	openErr error
}

func newDiagnosis(cmd *cobra.Command) *diagnosis {
	_, cfg, err := loadConfig(cmd)
	return &diagnosis{cmd: cmd, cfg: cfg, cfgErr: err}
}

func (d *diagnosis) checks() []DiagnosticCheck {
	return []DiagnosticCheck{
		{Name: "Go Version", Check: checkGoVersion},
		{Name: "Configuration", Check: checkConfiguration},
		{Name: "Storage Connection", Check: checkStorageConnection},
		{Name: "Event Store Schema", Check: checkEventStoreSchema},
		{Name: "Error Catalog", Check: checkErrorCatalog},
	}
}

// Run executes every check, printing each as it completes.
func (d *diagnosis) Run(out io.Writer) []CheckResult {
	var results []CheckResult
	for _, check := range d.checks() {
		r := check.Check(d)
		r.Name = check.Name
		results = append(results, r)

		fmt.Fprintf(out, "  %s %-22s %s\n", styles.IconPending, check.Name, statusBadge(r.Status))
		if r.Message != "" {
			fmt.Fprintf(out, "    %s\n", styles.Muted.Render(r.Message))
		}
	}
	return results
}

func (d *diagnosis) Close() {
	if d.session != nil {
		d.session.Close()
	}
}

// store opens the configured store once. It returns nil with a result to
// report when the store cannot be used.
func (d *diagnosis) store(name string) (adapters.EventStoreAdapter, *CheckResult) {
	if d.cfg == nil {
		r := newCheckResult(name, StatusWarning, "Skipped (no configuration)")
		return nil, &r
	}
	if d.session == nil && d.openErr == nil {
		d.session, d.openErr = newSession(d.cmd)
		if d.openErr == nil {
			ctx, cancel := context.WithTimeout(d.context(), diagnoseTimeout)
			d.openErr = d.session.open(ctx)
			cancel()
		}
	}
	if d.openErr != nil {
		r := newCheckResult(name, StatusError, d.openErr.Error())
		return nil, &r
	}
	return d.session.store, nil
}

func (d *diagnosis) context() context.Context {
	if ctx := d.cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func statusBadge(s CheckStatus) string {
	switch s {
	case StatusOK:
		return ui.StatusBadge("ok")
	case StatusWarning:
		return ui.StatusBadge("warning")
	default:
		return ui.StatusBadge("failed")
	}
}

func checkGoVersion(*diagnosis) CheckResult {
	return newCheckResult("Go Version", StatusOK, fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH))
}

func checkConfiguration(d *diagnosis) CheckResult {
	const name = "Configuration"
	if d.cfgErr != nil {
		return newCheckResult(name, StatusWarning, d.cfgErr.Error()).
			withRecommendation("Run 'stoat init' to create a configuration file")
	}
	if problems := d.cfg.Validate(); len(problems) > 0 {
		return newCheckResult(name, StatusError, fmt.Sprintf("%d validation errors", len(problems))).
			withRecommendation("Fix " + config.ConfigFileName + ": " + problems[0])
	}
	return newCheckResult(name, StatusOK, fmt.Sprintf("Project: %s, Driver: %s", d.cfg.Project.Name, d.cfg.Storage.Driver))
}

func checkStorageConnection(d *diagnosis) CheckResult {
	const name = "Storage Connection"
	if _, skipped := d.store(name); skipped != nil {
		if skipped.Status == StatusError {
			return skipped.withRecommendation("Check that the store is running and the connection settings are correct")
		}
		return *skipped
	}
	if d.cfg.Storage.Driver == config.DriverMemory {
		return newCheckResult(name, StatusOK, "Using the in-memory driver, no connection needed")
	}
	return newCheckResult(name, StatusOK, "Connected to "+d.cfg.Storage.Driver)
}

func checkEventStoreSchema(d *diagnosis) CheckResult {
	const name = "Event Store Schema"
	store, skipped := d.store(name)
	if skipped != nil {
		return newCheckResult(name, StatusWarning, "Skipped (store unavailable)")
	}
	if _, ok := unwrap(store).(adapters.SchemaProvider); !ok {
		return newCheckResult(name, StatusOK, "The "+d.cfg.Storage.Driver+" driver needs no schema")
	}

	ctx, cancel := context.WithTimeout(d.context(), diagnoseTimeout)
	defer cancel()
	if _, _, err := adapters.ReadPage(ctx, store, probeStream, 0, 1); err != nil {
		return newCheckResult(name, StatusError, err.Error()).
			withRecommendation("Run 'stoat migrate' to create the event store schema")
	}
	return newCheckResult(name, StatusOK, "Event store tables are readable")
}

func checkErrorCatalog(*diagnosis) CheckResult {
	codes := stoat.Catalog()
	domains := make(map[string]bool)
	for _, c := range codes {
		domains[c.Domain] = true
	}
	return newCheckResult("Error Catalog", StatusOK, fmt.Sprintf("%d codes in %d domains", len(codes), len(domains)))
}
