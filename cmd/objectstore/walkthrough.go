package main

import (
	"bufio"
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tendant/simple-objectstore/pkg/objectstore/workflow"
)

// NewWalkthroughCommand creates the command running the full container lifecycle
func NewWalkthroughCommand(flags *globalFlags) *cobra.Command {
	defaults := workflow.DefaultConfig()
	cfg := defaults
	var (
		pause  bool
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "walkthrough",
		Short: "Run the container lifecycle end to end",
		Long: `Create a uniquely named container, inspect and tag it, upload a local
file, list and download it back, verify the content and clean everything up.

Each step is printed as it completes. The first failing step aborts the run
and is reported with its error kind; cleanup runs regardless.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, logger, release, err := flags.newClient(cmd)
			if err != nil {
				return err
			}
			defer release()

			out := cmd.OutOrStdout()
			w := workflow.New(client, workflow.WithConfig(cfg), workflow.WithLogger(logger))
			if !asJSON {
				w.OnStep = func(step workflow.Step, report *workflow.Report) {
					printStep(cmd, step, report)
				}
			}
			if pause {
				in := bufio.NewReader(cmd.InOrStdin())
				w.BeforeCleanup = func(ctx context.Context, report *workflow.Report) error {
					fmt.Fprintf(out, "Press Enter to delete container %s and the local files...", report.Container)
					_, err := in.ReadString('\n')
					fmt.Fprintln(out)
					return err
				}
			}

			report, err := w.Run(cmd.Context())
			if asJSON {
				if perr := printJSON(out, report); perr != nil && err == nil {
					err = perr
				}
			}
			if err != nil {
				return err
			}
			if !asJSON {
				fmt.Fprintln(out, "Done")
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.DataDir, "data-dir", defaults.DataDir, "directory for the local and downloaded files")
	f.StringVar(&cfg.ContainerPrefix, "container-prefix", defaults.ContainerPrefix, "prefix of the container name")
	f.StringVar(&cfg.FilePrefix, "file-prefix", defaults.FilePrefix, "prefix of the local file name")
	f.StringVar(&cfg.Content, "content", defaults.Content, "content of the uploaded file")
	f.StringToStringVar(&cfg.Metadata, "metadata", defaults.Metadata, "container metadata")
	f.BoolVar(&pause, "pause", false, "wait for Enter before cleaning up")
	f.BoolVar(&asJSON, "json", false, "print the report as JSON instead of step lines")

	return cmd
}

func printStep(cmd *cobra.Command, step workflow.Step, report *workflow.Report) {
	out := cmd.OutOrStdout()
	switch step {
	case workflow.StepCreateContainer:
		fmt.Fprintf(out, "Created container %s\n", report.Container)
	case workflow.StepGetProperties:
		fmt.Fprintf(out, "Public access: %s, last modified: %s\n",
			report.Properties.PublicAccess, report.Properties.LastModified)
	case workflow.StepGetMetadata:
		fmt.Fprintln(out, "Container metadata:")
		printMetadata(out, report.Metadata)
	case workflow.StepWriteLocalFile:
		fmt.Fprintf(out, "Wrote local file %s\n", report.LocalFile)
	case workflow.StepUpload:
		fmt.Fprintf(out, "Uploaded %s\n", report.ObjectName)
	case workflow.StepList:
		fmt.Fprintln(out, "Objects:")
		for _, entry := range report.Objects {
			fmt.Fprintf(out, "  %s (%d bytes)\n", entry.Name, entry.Size)
		}
	case workflow.StepDownload:
		fmt.Fprintf(out, "Downloaded to %s (%d bytes)\n", report.DownloadFile, report.Downloaded)
	case workflow.StepVerify:
		fmt.Fprintln(out, "Content verified")
	case workflow.StepCleanup:
		fmt.Fprintln(out, "Cleaned up")
	default:
		fmt.Fprintf(out, "Completed %s\n", step)
	}
}
