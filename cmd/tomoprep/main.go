// Command tomoprep pre-processes tomography projections: it removes
// zingers and corrects lens distortion for one chunk of a scan.
//
// Several tomoprep processes normally run side by side, one per chunk,
// each started with the same configuration and its own --my-chunk.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tomoprep/pkg/config"
	"tomoprep/pkg/logging"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jobName    string
	threads    int

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "tomoprep",
	Short: "Dezinger and distortion correction for tomography projections",
	Long: `tomoprep reads projection frames, removes zingers by comparing every
pixel with the same pixel in neighbouring frames, corrects radial lens
distortion and writes the result. The scan is split into chunks so that
several processes can share the work.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		if flags.Changed("verbose") {
			cfg.Output.Verbose = verbose
		}
		if flags.Changed("job") {
			cfg.Output.JobName = jobName
		}
		if flags.Changed("threads") {
			cfg.Processing.Threads = threads
		}

		logger, err = logging.NewLogger(cfg.Output.Verbose, cfg.Output.JobName)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "tomoprep.yaml", "Configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&jobName, "job", "", "Job name attached to every log entry")
	rootCmd.PersistentFlags().IntVarP(&threads, "threads", "t", 0, "Worker threads per engine (0: detect)")

	registerRunFlags(runCmd)
	registerPlanFlags(planCmd)
	registerInvertFlags(invertCmd)
	registerSliceFlags(sliceCmd)

	configCmd.AddCommand(configInitCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(invertCmd)
	rootCmd.AddCommand(sliceCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
