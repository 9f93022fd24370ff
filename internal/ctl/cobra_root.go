package ctl

import (
	"os"

	"github.com/spf13/cobra"
)

// Config carries persistent CLI settings.
type Config struct {
	LogLvl string
}

// buildRootCmd is a convenience for help-only fallbacks.
func buildRootCmd() *cobra.Command { return buildRootCmdWith(&Config{LogLvl: "info"}) }

// buildRootCmdWith constructs the Cobra command tree wired to the fn* actions.
func buildRootCmdWith(cfg *Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "stripctl",
		Short:         "Brain-extraction runs, runtime provisioning and device probing",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("log-level", cfg.LogLvl, "Log level: debug|info|warn|error (defaults STRIPCTL_LOG_LEVEL or info)")
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if f := cmd.InheritedFlags().Lookup("log-level"); f != nil {
			if v := f.Value.String(); v != "" {
				cfg.LogLvl = v
			}
		}
		SetLogLevel(cfg.LogLvl)
	}

	var opts runOptions
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run one brain extraction",
		Example: "  stripctl run -i t1.nii.gz -o stripped.nii.gz -m brain_mask.nii.gz\n" +
			"  stripctl run -i t1.nii.gz -o stripped.nii.gz --device gpu:0",
		RunE: func(cmd *cobra.Command, args []string) error {
			return fnRun(cmd.Context(), opts)
		},
	}
	runCmd.Flags().StringVarP(&opts.Input, "input", "i", "", "Input MRI volume (.nii or .nii.gz)")
	runCmd.Flags().StringVarP(&opts.OutputVolume, "output", "o", "", "Destination for the skull-stripped volume")
	runCmd.Flags().StringVarP(&opts.OutputSegmentation, "mask", "m", "", "Destination for the brain-mask segmentation")
	runCmd.Flags().StringVar(&opts.Device, "device", "auto", "Device: auto|cpu|gpu:N")
	runCmd.Flags().IntVar(&opts.TimeoutSec, "timeout-sec", 0, "Wall-clock limit in seconds (0=unlimited)")
	runCmd.Flags().StringVar(&opts.WorkDir, "work-dir", "", "Parent directory for the run workspace")
	runCmd.Flags().BoolVar(&opts.KeepWorkspace, "keep-workspace", false, "Preserve the run workspace for debugging")
	runCmd.Flags().StringVar(&opts.ToolBin, "tool-bin", "", "Brain-extraction executable (default hd-bet)")
	runCmd.Flags().StringVar(&opts.Python, "python", "", "Python interpreter for runtime provisioning")
	runCmd.Flags().StringVar(&opts.ModelCacheDir, "model-cache-dir", "", "Model parameter-file directory")
	_ = runCmd.MarkFlagRequired("input")
	root.AddCommand(runCmd)

	var provPython, provCacheDir string
	provisionCmd := &cobra.Command{
		Use:     "provision",
		Short:   "Install or verify the inference runtime",
		Example: "  stripctl provision\n  stripctl provision --python python3.11",
		RunE: func(cmd *cobra.Command, args []string) error {
			return fnProvision(cmd.Context(), provPython, provCacheDir)
		},
	}
	provisionCmd.Flags().StringVar(&provPython, "python", "", "Python interpreter for runtime provisioning")
	provisionCmd.Flags().StringVar(&provCacheDir, "model-cache-dir", "", "Model parameter-file directory, created if missing")
	root.AddCommand(provisionCmd)

	devicesCmd := &cobra.Command{
		Use:   "devices",
		Short: "List CUDA accelerators visible to the inference tool",
		RunE: func(cmd *cobra.Command, args []string) error {
			return fnDevices(cmd.Context())
		},
	}
	root.AddCommand(devicesCmd)

	// completion command
	completionCmd := &cobra.Command{Use: "completion", Short: "Generate the autocompletion script for the specified shell"}
	completionCmd.AddCommand(&cobra.Command{Use: "bash", Short: "Bash completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenBashCompletion(os.Stdout) }})
	completionCmd.AddCommand(&cobra.Command{Use: "zsh", Short: "Zsh completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenZshCompletion(os.Stdout) }})
	completionCmd.AddCommand(&cobra.Command{Use: "fish", Short: "Fish completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenFishCompletion(os.Stdout, true) }})
	completionCmd.AddCommand(&cobra.Command{Use: "powershell", Short: "PowerShell completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenPowerShellCompletionWithDesc(os.Stdout) }})
	root.AddCommand(completionCmd)

	return root
}
