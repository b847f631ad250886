package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/smartfile/client-go/api"
)

func addCommands(root *cobra.Command) {
	root.AddCommand(
		pingCommand(),
		whoamiCommand(),
		statCommand(),
		lsCommand(),
		catCommand(),
		putCommand(),
		rmCommand(),
		mkdirCommand(),
		mvCommand(),
		cpCommand(),
		renameCommand(),
	)
}

func pingCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the API answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, _, err := newClient()
			if err != nil {
				return err
			}
			if err := client.Ping(context.Background()); err != nil {
				return err
			}
			fmt.Println("pong")
			return nil
		},
	}
}

func whoamiCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the authenticated identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, _, err := newClient()
			if err != nil {
				return err
			}
			id, err := client.WhoAmI(context.Background())
			if err != nil {
				return err
			}
			if id.Site != "" {
				fmt.Printf("%s@%s\n", id.User, id.Site)
			} else {
				fmt.Println(id.User)
			}
			return nil
		},
	}
}

func statCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <path>",
		Short: "Show metadata for a path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs, err := newVFS()
			if err != nil {
				return err
			}
			info, err := fs.Stat(context.Background(), args[0])
			if err != nil {
				return err
			}
			printInfo(os.Stdout, info)
			return nil
		},
	}
}

func lsCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "ls <path>",
		Short: "List a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs, err := newVFS()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
			defer w.Flush()
			return fs.ReadDirPaged(context.Background(), args[0], func(page *api.PathInfo) (bool, error) {
				if page == nil {
					return false, nil
				}
				for _, child := range page.Children {
					if long {
						fmt.Fprintf(w, "%s\t%d\t%s\t%s\n",
							kind(&child), child.Size,
							time.Time(child.Time).UTC().Format(time.RFC3339),
							child.Name)
					} else {
						fmt.Fprintln(w, child.Name)
					}
				}
				return false, nil
			})
		},
	}
	cmd.Flags().BoolVarP(&long, "long", "l", false, "show size and modification time")
	return cmd
}

func catCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cat <path>",
		Short: "Write a remote file to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, _, err := newClient()
			if err != nil {
				return err
			}
			in, err := client.Download(context.Background(), args[0])
			if err != nil {
				return err
			}
			defer in.Close()
			_, err = io.Copy(os.Stdout, in)
			return err
		},
	}
}

func putCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "put <local-file> <remote-dir>",
		Short: "Upload a local file into a remote directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, _, err := newClient()
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			return client.UploadNew(context.Background(), args[1], path.Base(args[0]), f)
		},
	}
}

func rmCommand() *cobra.Command {
	var direct bool
	cmd := &cobra.Command{
		Use:   "rm <path>",
		Short: "Remove a file or directory tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, _, err := newClient()
			if err != nil {
				return err
			}
			ctx := context.Background()
			if direct {
				// single-file delete, no task round trip
				return client.RemoveFile(ctx, args[0])
			}
			result, err := client.Remove(ctx, args[0])
			if err != nil {
				return err
			}
			for item, reason := range result.Errors {
				fmt.Fprintf(os.Stderr, "rm: %s: %s\n", item, reason)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&direct, "direct", false, "delete a single file synchronously")
	return cmd
}

func mkdirCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs, err := newVFS()
			if err != nil {
				return err
			}
			_, err = fs.Mkdir(context.Background(), args[0])
			return err
		},
	}
}

func mvCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "mv <src> <dst>",
		Short: "Move a file or directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs, err := newVFS()
			if err != nil {
				return err
			}
			return fs.Move(context.Background(), args[0], args[1])
		},
	}
}

func cpCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cp <src> <dst>",
		Short: "Copy a file or directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs, err := newVFS()
			if err != nil {
				return err
			}
			return fs.Copy(context.Background(), args[0], args[1])
		},
	}
}

func renameCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <src> <dst>",
		Short: "Rename a file or directory in place",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs, err := newVFS()
			if err != nil {
				return err
			}
			return fs.Rename(context.Background(), args[0], args[1])
		},
	}
}

func kind(info *api.PathInfo) string {
	if info.IsDir {
		return "d"
	}
	return "-"
}

func printInfo(w io.Writer, info *api.PathInfo) {
	fmt.Fprintf(w, "path:\t%s\n", info.Path)
	fmt.Fprintf(w, "name:\t%s\n", info.Name)
	if info.IsDir {
		fmt.Fprintf(w, "type:\tdirectory\n")
	} else {
		fmt.Fprintf(w, "type:\tfile\n")
		fmt.Fprintf(w, "size:\t%d\n", info.Size)
	}
	if !time.Time(info.Time).IsZero() {
		fmt.Fprintf(w, "time:\t%s\n", time.Time(info.Time).UTC().Format(time.RFC3339))
	}
}
