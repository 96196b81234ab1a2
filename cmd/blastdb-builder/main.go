package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/openbiotools/blastdb-builder/internal/config"
	"github.com/openbiotools/blastdb-builder/internal/logging"
	"github.com/openbiotools/blastdb-builder/internal/manifest"
	"github.com/openbiotools/blastdb-builder/internal/metrics"
	"github.com/openbiotools/blastdb-builder/internal/pipeline"
)

// version is stamped at build time via -ldflags.
var version = "dev"

const citationText = `If this database contributes to your work, please cite:

  Camacho C, Coulouris G, Avagyan V, Ma N, Papadopoulos J, Bealer K,
  Madden TL. BLAST+: architecture and applications.
  BMC Bioinformatics 10, 421 (2009).

  O'Leary NA, et al. Reference sequence (RefSeq) database at NCBI:
  current status, taxonomic expansion, and functional annotation.
  Nucleic Acids Research 44, D733-D745 (2016).
`

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		cfgPath  string
		download bool
		concat   bool
		build    bool
		citation bool
	)
	groupFlags := map[string]*bool{}

	cmd := &cobra.Command{
		Use:   "blastdb-builder",
		Short: "Build a segmented BLAST nucleotide database from reference genome manifests",
		Long: `blastdb-builder downloads the eligible genome assemblies of the selected
taxonomic groups, assembles them into one sequence corpus, and builds a
segmented, aliased BLAST nucleotide database from it.

Every stage is resumable: rerunning after an interruption skips work whose
artifacts already exist and continues where the previous run stopped.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if citation {
				fmt.Fprint(cmd.OutOrStdout(), citationText)
				return nil
			}
			if !download && !concat && !build {
				return cmd.Help()
			}
			stages := pipeline.Stages{Download: download, Concat: concat, Build: build}
			return run(cmd, cfgPath, stages, selectedGroups(groupFlags))
		},
	}

	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to YAML config file")
	cmd.Flags().BoolVar(&download, "download", false, "run the download stage")
	cmd.Flags().BoolVar(&concat, "concat", false, "run the corpus assembly stage")
	cmd.Flags().BoolVar(&build, "build", false, "run the database build stage")
	cmd.Flags().BoolVar(&citation, "citation", false, "print citation information and exit")
	for _, name := range manifest.GroupNames() {
		groupFlags[name] = cmd.Flags().Bool(name, false, "download the "+name+" group")
	}

	return cmd
}

// selectedGroups returns the groups named on the command line, or every
// group when none was.
func selectedGroups(flags map[string]*bool) []string {
	var selected []string
	for _, name := range manifest.GroupNames() {
		if *flags[name] {
			selected = append(selected, name)
		}
	}
	if len(selected) == 0 {
		return manifest.GroupNames()
	}
	return selected
}

func run(cmd *cobra.Command, cfgPath string, stages pipeline.Stages, groups []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "config: %v\n", err)
		return err
	}
	logging.Setup(cfg.Log)

	metrics.Init("blastdb")
	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.StartServer(cfg.Metrics.ListenAddr); err != nil {
				slog.Error("metrics server stopped", "error", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := pipeline.New(cfg)
	slog.Info("starting run",
		"version", version,
		"run_id", p.RunID(),
		"work_dir", cfg.WorkDir,
		"groups", groups,
	)

	if err := p.Run(ctx, stages, groups); err != nil {
		if ctx.Err() != nil {
			slog.Info("interrupted; completed work is checkpointed and a rerun resumes it")
		}
		slog.Error("run failed", "run_id", p.RunID(), "error", err)
		return err
	}

	slog.Info("run complete", "run_id", p.RunID())
	return nil
}
