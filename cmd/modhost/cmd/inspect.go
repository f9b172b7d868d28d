package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/GoCodeAlone/modhost"
)

// moduleReport is what inspect prints for one module.
type moduleReport struct {
	ID         int64    `json:"id" yaml:"id"`
	Name       string   `json:"name" yaml:"name"`
	Version    string   `json:"version" yaml:"version"`
	State      string   `json:"state" yaml:"state"`
	Location   string   `json:"location" yaml:"location"`
	Fragment   bool     `json:"fragment,omitempty" yaml:"fragment,omitempty"`
	Exports    []string `json:"exports,omitempty" yaml:"exports,omitempty"`
	Wires      []string `json:"wires,omitempty" yaml:"wires,omitempty"`
	Unresolved []string `json:"unresolved,omitempty" yaml:"unresolved,omitempty"`
	Error      string   `json:"error,omitempty" yaml:"error,omitempty"`
}

// NewInspectCommand creates the inspect command
func NewInspectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <module locations...>",
		Short: "Resolve module archives and show how they wire together",
		Long: `Inspect installs the given module archives into a framework that is never
started, resolves them and prints each module's state, exported packages,
package wires and unresolved requirements. Nothing is activated.

Examples:
  modhost inspect ./deploy/*.zip
  modhost inspect --output json ./modules/api ./modules/impl`,
		Args: cobra.MinimumNArgs(1),
		RunE: runInspect,
	}

	cmd.Flags().StringP("output", "o", "text", "Output format: text, json or yaml")

	return cmd
}

func runInspect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	// inspect never watches directories
	cfg.DeployDir, cfg.ConfigDir, cfg.RefreshSchedule = "", "", ""
	logger, flush, err := commandLogger(cmd, cfg)
	if err != nil {
		return err
	}
	defer flush()

	ctx := cmd.Context()
	fw, err := modhost.New(cfg, logger)
	if err != nil {
		return err
	}
	if err := fw.Init(ctx); err != nil {
		return err
	}
	defer func() { _ = fw.Stop(ctx) }()

	var reports []moduleReport
	for _, location := range args {
		if _, err := fw.Install(ctx, location, nil); err != nil {
			reports = append(reports, moduleReport{Location: location, Error: err.Error()})
		}
	}
	if err := fw.ResolveModules(ctx); err != nil {
		logger.Debug("Some modules did not resolve", "error", err)
	}
	for _, m := range fw.Modules() {
		reports = append(reports, report(fw, m))
	}

	format, _ := cmd.Flags().GetString("output")
	return printReports(cmd.OutOrStdout(), format, reports)
}

func report(fw *modhost.Framework, m *modhost.Module) moduleReport {
	info := m.Info()
	r := moduleReport{
		ID:       info.ID,
		Name:     info.Name,
		Version:  info.Version.String(),
		State:    info.State.String(),
		Location: info.Location,
		Fragment: info.Fragment,
	}
	if caps, err := fw.ExportedPackages(m.ID()); err == nil {
		for _, c := range caps {
			r.Exports = append(r.Exports, c.Package+" "+c.Version.String())
		}
	}
	if wires, err := fw.Wires(m.ID()); err == nil {
		for _, w := range wires {
			provider := fmt.Sprintf("revision %d", w.Provider())
			if rev, ok := fw.Graph().Revision(w.Provider()); ok {
				provider = fmt.Sprintf("%s %s (module %d)", rev.Name, rev.Version, rev.Module)
			}
			r.Wires = append(r.Wires, w.Requirement.Package+" -> "+provider)
		}
	}
	if reqs, err := fw.UnresolvedRequirements(m.ID()); err == nil {
		for _, req := range reqs {
			r.Unresolved = append(r.Unresolved, req.Package+" "+req.Range.String())
		}
	}
	return r
}

func printReports(w io.Writer, format string, reports []moduleReport) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(reports)
	case "", "text":
	default:
		return fmt.Errorf("%w: %q", errUnknownOutput, format)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tVERSION\tSTATE\tLOCATION")
	for _, r := range reports {
		if r.Error != "" {
			fmt.Fprintf(tw, "-\t-\t-\tFAILED\t%s\n", r.Location)
			continue
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", r.ID, r.Name, r.Version, r.State, r.Location)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, r := range reports {
		if r.Error != "" {
			fmt.Fprintf(w, "\n%s: %s\n", r.Location, r.Error)
			continue
		}
		if len(r.Wires) == 0 && len(r.Unresolved) == 0 {
			continue
		}
		fmt.Fprintf(w, "\n%s %s\n", r.Name, r.Version)
		for _, wire := range r.Wires {
			fmt.Fprintf(w, "  wire        %s\n", wire)
		}
		for _, req := range r.Unresolved {
			fmt.Fprintf(w, "  unresolved  %s\n", req)
		}
	}
	return nil
}
