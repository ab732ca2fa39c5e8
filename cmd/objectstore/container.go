package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tendant/simple-objectstore/pkg/objectstore"
	"github.com/tendant/simple-objectstore/pkg/objectstore/naming"
)

// NewContainerCommand creates the container command group
func NewContainerCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "container",
		Short: "Manage containers",
	}

	cmd.AddCommand(newContainerCreateCommand(flags))
	cmd.AddCommand(newContainerPropsCommand(flags))
	cmd.AddCommand(newContainerDeleteCommand(flags))
	cmd.AddCommand(newContainerAccessCommand(flags))
	cmd.AddCommand(newMetadataCommand(flags))

	return cmd
}

func newContainerCreateCommand(flags *globalFlags) *cobra.Command {
	var prefix string

	cmd := &cobra.Command{
		Use:   "create [name]",
		Short: "Create a container",
		Long: `Create a container. Without a name, a unique one is generated from
--prefix and a random UUID.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			} else {
				generated, err := naming.ContainerName(prefix)
				if err != nil {
					return err
				}
				name = generated
			}

			client, _, release, err := flags.newClient(cmd)
			if err != nil {
				return err
			}
			defer release()

			container, err := client.CreateContainer(cmd.Context(), name)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), container.Name)
			return nil
		},
	}

	cmd.Flags().StringVar(&prefix, "prefix", "container-", "prefix of a generated name")
	return cmd
}

func newContainerPropsCommand(flags *globalFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "props <name>",
		Short: "Show container properties",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, release, err := flags.newClient(cmd)
			if err != nil {
				return err
			}
			defer release()

			props, err := client.GetProperties(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, props)
			}
			fmt.Fprintf(out, "Public access: %s\n", props.PublicAccess)
			fmt.Fprintf(out, "Created: %s\n", props.CreatedAt.Format(time.RFC3339))
			fmt.Fprintf(out, "Last modified: %s\n", props.LastModified.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func newContainerDeleteCommand(flags *globalFlags) *cobra.Command {
	var ignoreMissing bool

	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a container and every object in it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, release, err := flags.newClient(cmd)
			if err != nil {
				return err
			}
			defer release()

			err = client.DeleteContainer(cmd.Context(), args[0])
			if ignoreMissing && objectstore.IsNotFound(err) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&ignoreMissing, "ignore-missing", false, "succeed when the container does not exist")
	return cmd
}

func newContainerAccessCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "access <name> <none|blob|container>",
		Short: "Set the anonymous access level of a container",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := objectstore.ParsePublicAccess(args[1])
			if err != nil {
				return err
			}

			client, _, release, err := flags.newClient(cmd)
			if err != nil {
				return err
			}
			defer release()

			return client.SetPublicAccess(cmd.Context(), args[0], level)
		},
	}
}

func newMetadataCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "meta",
		Short: "Read or replace container metadata",
	}

	var asJSON bool
	getCmd := &cobra.Command{
		Use:   "get <name>",
		Short: "Print container metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, release, err := flags.newClient(cmd)
			if err != nil {
				return err
			}
			defer release()

			md, err := client.GetMetadata(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), md)
			}
			printMetadata(cmd.OutOrStdout(), md)
			return nil
		},
	}
	getCmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")

	setCmd := &cobra.Command{
		Use:   "set <name> [key=value...]",
		Short: "Replace container metadata",
		Long: `Replace the whole metadata map of a container. Keys not given are
removed; with no pairs the metadata is cleared.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			md, err := parseMetadata(args[1:])
			if err != nil {
				return err
			}

			client, _, release, err := flags.newClient(cmd)
			if err != nil {
				return err
			}
			defer release()

			return client.SetMetadata(cmd.Context(), args[0], md)
		},
	}

	cmd.AddCommand(getCmd, setCmd)
	return cmd
}
