package main

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/netreach/netreach/internal/bitmap"
	"github.com/netreach/netreach/internal/compiler"
	"github.com/netreach/netreach/internal/diagnostics"
	"github.com/netreach/netreach/internal/digest"
	"github.com/netreach/netreach/internal/loader"
	"github.com/netreach/netreach/internal/model"
	"github.com/netreach/netreach/internal/relation"
)

var (
	flagCrossTenantLabel string
	flagSystemWorkload   string
)

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check [dir]",
		Short: "Build the reachability matrix and run every diagnostic query",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runCheck,
	}
	cmd.Flags().StringVar(&flagCrossTenantLabel, "cross-tenant-label", "", "label key to evaluate for cross-tenant leaks; skipped if empty")
	cmd.Flags().StringVar(&flagSystemWorkload, "system-workload", "", "workload name to evaluate for designated-system isolation; skipped if empty")
	return cmd
}

// checkReport is the serialized shape of `netreach check`'s output, used
// for both the text and json --format renderings.
type checkReport struct {
	RunID           string       `json:"runId"`
	Workloads       int          `json:"workloads"`
	Policies        int          `json:"policies"`
	Warnings        []string     `json:"warnings,omitempty"`
	EnginesAgree    *bool        `json:"enginesAgree,omitempty"`
	AllReachable    []string     `json:"allReachable"`
	AllIsolated     []string     `json:"allIsolated"`
	CrossTenant     []string     `json:"crossTenant,omitempty"`
	SystemIsolation []string     `json:"systemIsolation,omitempty"`
	PolicyShadow    []policyPair `json:"policyShadow"`
	PolicyConflict  []policyPair `json:"policyConflict"`
}

type policyPair struct {
	A string `json:"a"`
	B string `json:"b"`
}

func runCheck(cmd *cobra.Command, args []string) error {
	dir := cfg.InputDir
	if len(args) == 1 {
		dir = args[0]
	}

	m, err := loader.LoadDir(dir)
	if err != nil {
		return fmt.Errorf("loading manifests from %s: %w", dir, err)
	}
	for _, w := range m.Warnings {
		log.Printf("run %s: %s", runID, w)
	}

	var mat *bitmap.Matrix
	var eng *relation.Engine

	if cfg.Engine == "bitmap" || cfg.Engine == "both" {
		mat = bitmap.Build(m, cfg.Flags)
	}
	if cfg.Engine == "relation" || cfg.Engine == "both" {
		eng, err = compiler.Compile(m, cfg.Flags)
		if err != nil {
			return fmt.Errorf("compiling policies to rules: %w", err)
		}
		if err := eng.Evaluate(); err != nil {
			return fmt.Errorf("evaluating relation engine: %w", err)
		}
	}

	rep := checkReport{
		RunID:     runID.String(),
		Workloads: len(m.Workloads),
		Policies:  len(m.Policies),
	}
	for _, w := range m.Warnings {
		rep.Warnings = append(rep.Warnings, w.String())
	}

	if cfg.Engine == "both" {
		agree := digest.Tuples(mat.Tuples()) == digest.Tuples(eng.Tuples("edge"))
		rep.EnginesAgree = &agree
		if !agree {
			log.Printf("run %s: bitmap and relation engines disagree on edge set", runID)
		}
	}

	var reachable, isolated []int
	switch {
	case mat != nil:
		reachable = diagnostics.AllReachable(mat)
		isolated = diagnostics.AllIsolated(mat)
	case eng != nil:
		reachable = diagnostics.AllReachableFromEdges(eng, len(m.Workloads))
		isolated = diagnostics.AllIsolatedFromEdges(eng, len(m.Workloads))
	}
	rep.AllReachable = workloadNames(m, reachable)
	rep.AllIsolated = workloadNames(m, isolated)

	if flagCrossTenantLabel != "" && mat != nil {
		rep.CrossTenant = workloadNames(m, diagnostics.CrossTenant(mat, m.Workloads, flagCrossTenantLabel))
	}
	if flagSystemWorkload != "" && mat != nil {
		idx, ok := workloadIndex(m, flagSystemWorkload)
		if !ok {
			return fmt.Errorf("check: no workload named %q", flagSystemWorkload)
		}
		rep.SystemIsolation = workloadNames(m, diagnostics.SystemIsolation(mat, idx))
	}

	for _, p := range diagnostics.PolicyShadow(m) {
		rep.PolicyShadow = append(rep.PolicyShadow, policyPair{A: m.Policies[p.A].Name, B: m.Policies[p.B].Name})
	}
	for _, p := range diagnostics.PolicyConflict(m) {
		rep.PolicyConflict = append(rep.PolicyConflict, policyPair{A: m.Policies[p.A].Name, B: m.Policies[p.B].Name})
	}

	return printReport(cmd, rep)
}

func printReport(cmd *cobra.Command, rep checkReport) error {
	if cfg.OutputFormat == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run: %s\n", rep.RunID)
	fmt.Fprintf(out, "workloads: %d, policies: %d\n", rep.Workloads, rep.Policies)
	for _, w := range rep.Warnings {
		fmt.Fprintf(out, "warning: %s\n", w)
	}
	if rep.EnginesAgree != nil {
		fmt.Fprintf(out, "engines agree: %v\n", *rep.EnginesAgree)
	}
	fmt.Fprintf(out, "all-reachable: %v\n", rep.AllReachable)
	fmt.Fprintf(out, "all-isolated: %v\n", rep.AllIsolated)
	if flagCrossTenantLabel != "" {
		fmt.Fprintf(out, "cross-tenant[%s]: %v\n", flagCrossTenantLabel, rep.CrossTenant)
	}
	if flagSystemWorkload != "" {
		fmt.Fprintf(out, "system-isolation[%s]: %v\n", flagSystemWorkload, rep.SystemIsolation)
	}
	fmt.Fprintf(out, "policy-shadow: %v\n", rep.PolicyShadow)
	fmt.Fprintf(out, "policy-conflict: %v\n", rep.PolicyConflict)
	return nil
}

func workloadNames(m *model.Model, indices []int) []string {
	out := make([]string, 0, len(indices))
	for _, i := range indices {
		out = append(out, m.Workloads[i].Name)
	}
	return out
}

func workloadIndex(m *model.Model, name string) (int, bool) {
	for _, w := range m.Workloads {
		if w.Name == name {
			return w.Index, true
		}
	}
	return 0, false
}
