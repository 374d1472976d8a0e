// Command netreach verifies network-policy configurations for a
// container-orchestration cluster: it loads a directory of Pod/Namespace/
// NetworkPolicy manifests, builds the reachability matrix, and answers the
// diagnostic queries the engine supports.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/netreach/netreach/internal/config"
)

var version = "dev"

var (
	cfgFile string
	cfg     *config.Config
	runID   uuid.UUID

	flagInputDir    string
	flagEngine      string
	flagFormat      string
	flagSelfIngress bool
	flagPermissive  bool
	flagTranspose   bool
	flagGroundPod   bool
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		log.Printf("run %s: %v", runID, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "netreach",
		Short:   "Verify network-policy reachability for a cluster snapshot",
		Long:    "netreach loads workloads, namespaces and NetworkPolicies from a directory of YAML manifests, builds the admission reachability matrix, and answers diagnostic queries about the resulting connectivity graph.",
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			runID = uuid.New()

			loaded, err := config.LoadFile(cfgFile)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			applyFlagOverrides(cmd, loaded)
			if err := loaded.Validate(); err != nil {
				return fmt.Errorf("validating config: %w", err)
			}
			cfg = loaded
			return nil
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to an optional netreach.yaml")
	root.PersistentFlags().StringVar(&flagInputDir, "input-dir", "", "directory of workload/namespace/policy manifests (overrides config)")
	root.PersistentFlags().StringVar(&flagEngine, "engine", "", "bitmap, relation, or both (overrides config)")
	root.PersistentFlags().StringVar(&flagFormat, "format", "", "text or json (overrides config)")
	root.PersistentFlags().BoolVar(&flagSelfIngress, "self-ingress", false, "force every workload to admit traffic from itself (overrides config)")
	root.PersistentFlags().BoolVar(&flagPermissive, "permissive-default", false, "treat workloads selected by no policy as fully open (overrides config)")
	root.PersistentFlags().BoolVar(&flagTranspose, "transpose", false, "also materialize the matrix's transpose (overrides config)")
	root.PersistentFlags().BoolVar(&flagGroundPod, "ground-default-pod", false, "compute unselected workloads directly instead of via negation (overrides config)")

	root.AddCommand(newCheckCmd(), newExplainCmd(), newVersionCmd())
	return root
}

func applyFlagOverrides(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("input-dir") {
		c.InputDir = flagInputDir
	}
	if flags.Changed("engine") {
		c.Engine = flagEngine
	}
	if flags.Changed("format") {
		c.OutputFormat = flagFormat
	}
	if flags.Changed("self-ingress") {
		c.Flags.CheckSelfIngressTraffic = flagSelfIngress
	}
	if flags.Changed("permissive-default") {
		c.Flags.CheckSelectByNoPolicy = flagPermissive
	}
	if flags.Changed("transpose") {
		c.Flags.BuildTransposeMatrix = flagTranspose
	}
	if flags.Changed("ground-default-pod") {
		c.Flags.GroundDefaultPod = flagGroundPod
	}
}
