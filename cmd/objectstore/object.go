package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/tendant/simple-objectstore/pkg/objectstore"
	"github.com/tendant/simple-objectstore/pkg/objectstore/naming"
)

// NewObjectCommand creates the object command group
func NewObjectCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "object",
		Short: "Upload, list, download and delete objects",
	}

	cmd.AddCommand(newObjectPutCommand(flags))
	cmd.AddCommand(newObjectGetCommand(flags))
	cmd.AddCommand(newObjectListCommand(flags))
	cmd.AddCommand(newObjectDeleteCommand(flags))

	return cmd
}

func newObjectPutCommand(flags *globalFlags) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "put <container> <file>",
		Short: "Upload a local file",
		Long:  `Upload a local file, overwriting any object with the same name. The object name defaults to the file's base name.`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			container, filePath := args[0], args[1]
			if name == "" {
				name = filepath.Base(filePath)
			}

			file, err := os.Open(filePath)
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", filePath, err)
			}

			client, _, release, err := flags.newClient(cmd)
			if err != nil {
				file.Close()
				return err
			}
			defer release()

			entry, err := client.UploadObject(cmd.Context(), container, name, file)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s (%d bytes)\n", entry.Name, entry.Size)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "object name (default: file base name)")
	return cmd
}

type stdoutSink struct {
	io.Writer
}

func (stdoutSink) Close() error { return nil }

func newObjectGetCommand(flags *globalFlags) *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "get <container> <name>",
		Short: "Download an object",
		Long: `Download an object to a local file. The default output is the object's
base name with DOWNLOADED inserted before the extension; "-" writes to stdout.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			container, name := args[0], args[1]

			client, _, release, err := flags.newClient(cmd)
			if err != nil {
				return err
			}
			defer release()

			if outputPath == "-" {
				_, err := client.DownloadObject(cmd.Context(), container, name, stdoutSink{cmd.OutOrStdout()})
				return err
			}

			if outputPath == "" {
				outputPath = naming.DownloadName(filepath.Base(name))
			}
			file, err := os.Create(outputPath)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", outputPath, err)
			}

			entry, err := client.DownloadObject(cmd.Context(), container, name, file)
			if err != nil {
				os.Remove(outputPath)
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Downloaded %s to %s (%d bytes)\n", name, outputPath, entry.Size)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", `output file path, "-" for stdout`)
	return cmd
}

func newObjectListCommand(flags *globalFlags) *cobra.Command {
	var (
		asJSON bool
		long   bool
	)

	cmd := &cobra.Command{
		Use:   "list <container>",
		Short: "List the objects in a container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, release, err := flags.newClient(cmd)
			if err != nil {
				return err
			}
			defer release()

			entries := []objectstore.ObjectEntry{}
			out := cmd.OutOrStdout()
			for entry, err := range client.ListObjects(cmd.Context(), args[0]) {
				if err != nil {
					return err
				}
				if asJSON {
					entries = append(entries, entry)
					continue
				}
				if long {
					fmt.Fprintf(out, "%10d  %s  %s\n", entry.Size, entry.LastModified.Format(time.RFC3339), entry.Name)
				} else {
					fmt.Fprintln(out, entry.Name)
				}
			}

			if asJSON {
				return printJSON(out, entries)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	cmd.Flags().BoolVarP(&long, "long", "l", false, "show size and modification time")
	return cmd
}

func newObjectDeleteCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <container> <name>",
		Short: "Delete an object",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, release, err := flags.newClient(cmd)
			if err != nil {
				return err
			}
			defer release()

			return client.DeleteObject(cmd.Context(), args[0], args[1])
		},
	}
}
