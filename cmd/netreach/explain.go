package main

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/netreach/netreach/internal/diagnostics"
	"github.com/netreach/netreach/internal/loader"
	"github.com/netreach/netreach/internal/model"
)

func newExplainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "explain <policyA> <policyB>",
		Short: "Report the shadow/conflict relationship between two named policies",
		Args:  cobra.ExactArgs(2),
		RunE:  runExplain,
	}
}

type explainReport struct {
	RunID       string `json:"runId"`
	PolicyA     string `json:"policyA"`
	PolicyB     string `json:"policyB"`
	AShadowsB   bool   `json:"aShadowsB"`
	BShadowsA   bool   `json:"bShadowsA"`
	Conflicting bool   `json:"conflicting"`
}

func runExplain(cmd *cobra.Command, args []string) error {
	m, err := loader.LoadDir(cfg.InputDir)
	if err != nil {
		return fmt.Errorf("loading manifests from %s: %w", cfg.InputDir, err)
	}
	for _, w := range m.Warnings {
		log.Printf("run %s: %s", runID, w)
	}

	idxA, ok := policyIndex(m, args[0])
	if !ok {
		return fmt.Errorf("explain: no policy named %q", args[0])
	}
	idxB, ok := policyIndex(m, args[1])
	if !ok {
		return fmt.Errorf("explain: no policy named %q", args[1])
	}

	shadow := diagnostics.PolicyShadow(m)
	conflict := diagnostics.PolicyConflict(m)

	rep := explainReport{
		RunID:       runID.String(),
		PolicyA:     args[0],
		PolicyB:     args[1],
		AShadowsB:   containsPair(shadow, idxB, idxA),
		BShadowsA:   containsPair(shadow, idxA, idxB),
		Conflicting: containsPair(conflict, idxA, idxB),
	}

	if cfg.OutputFormat == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run: %s\n", rep.RunID)
	fmt.Fprintf(out, "%s shadows %s: %v\n", rep.PolicyA, rep.PolicyB, rep.AShadowsB)
	fmt.Fprintf(out, "%s shadows %s: %v\n", rep.PolicyB, rep.PolicyA, rep.BShadowsA)
	fmt.Fprintf(out, "%s conflicts with %s: %v\n", rep.PolicyA, rep.PolicyB, rep.Conflicting)
	return nil
}

func policyIndex(m *model.Model, name string) (int, bool) {
	for _, p := range m.Policies {
		if p.Name == name {
			return p.Index, true
		}
	}
	return 0, false
}

func containsPair(pairs []diagnostics.Pair, a, b int) bool {
	for _, p := range pairs {
		if p.A == a && p.B == b {
			return true
		}
	}
	return false
}
