// Command bucketd runs the bucket metadata master, plus a handful of client
// subcommands for poking at a running master.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aigotowork/bucketd"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "bucketd",
		Short:         "Bucket-scoped metadata service over an embedded ordered KV store.",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.AddCommand(newMasterCmd())
	rootCmd.AddCommand(newClientCmd())
	return rootCmd
}

func newMasterCmd() *cobra.Command {
	var metadataPath, listen string

	cmd := &cobra.Command{
		Use:   "master",
		Short: "Run the master: own the store and serve the RPC endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			master, err := bucketd.OpenMaster(metadataPath, bucketd.WithAddr(listen))
			if err != nil {
				return err
			}
			defer master.Close()
			return master.ListenAndServe()
		},
	}
	cmd.Flags().StringVar(&metadataPath, "metadata-path", "/var/lib/bucketd", "directory holding rootDB/ and manifest.json")
	cmd.Flags().StringVar(&listen, "listen", bucketd.DefaultAddr, "RPC listen address")
	return cmd
}

// clientConn dials the master the way a worker process would.
func clientConn(metadataPath, addr string) (bucketd.Metadata, error) {
	return bucketd.Dial(metadataPath, bucketd.WithAddr(addr))
}

func newClientCmd() *cobra.Command {
	var metadataPath, addr string

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Issue single metadata operations against a running master",
	}
	cmd.PersistentFlags().StringVar(&metadataPath, "metadata-path", "/var/lib/bucketd", "directory holding manifest.json")
	cmd.PersistentFlags().StringVar(&addr, "addr", bucketd.DefaultAddr, "master RPC address")

	cmd.AddCommand(&cobra.Command{
		Use:   "create-bucket NAME ATTRS-JSON",
		Short: "Create a bucket",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			md, err := clientConn(metadataPath, addr)
			if err != nil {
				return err
			}
			defer md.Close()
			return md.CreateBucket(args[0], []byte(args[1]))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get-bucket NAME",
		Short: "Print a bucket's attributes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			md, err := clientConn(metadataPath, addr)
			if err != nil {
				return err
			}
			defer md.Close()
			attrs, err := md.GetBucketAttributes(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(attrs))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete-bucket NAME",
		Short: "Delete a bucket's metadata entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			md, err := clientConn(metadataPath, addr)
			if err != nil {
				return err
			}
			defer md.Close()
			return md.DeleteBucket(args[0])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "put-object BUCKET KEY VALUE-JSON",
		Short: "Store an object's metadata",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			md, err := clientConn(metadataPath, addr)
			if err != nil {
				return err
			}
			defer md.Close()
			return md.PutObject(args[0], args[1], []byte(args[2]))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get-object BUCKET KEY",
		Short: "Print an object's metadata",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			md, err := clientConn(metadataPath, addr)
			if err != nil {
				return err
			}
			defer md.Close()
			value, err := md.GetObject(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(value))
			return nil
		},
	})

	listCmd := &cobra.Command{
		Use:   "list BUCKET",
		Short: "List a bucket's keys",
		Args:  cobra.ExactArgs(1),
	}
	var prefix, delimiter, marker string
	var maxKeys int
	listCmd.Flags().StringVar(&prefix, "prefix", "", "key prefix")
	listCmd.Flags().StringVar(&delimiter, "delimiter", "", "common-prefix delimiter")
	listCmd.Flags().StringVar(&marker, "marker", "", "start strictly after this key")
	listCmd.Flags().IntVar(&maxKeys, "max-keys", -1, "page size bound")
	listCmd.RunE = func(cmd *cobra.Command, args []string) error {
		md, err := clientConn(metadataPath, addr)
		if err != nil {
			return err
		}
		defer md.Close()
		res, err := md.ListObjects(args[0], bucketd.ListingParams{
			Prefix:    prefix,
			Delimiter: delimiter,
			Marker:    marker,
			MaxKeys:   maxKeys,
		})
		if err != nil {
			return err
		}
		for _, cp := range res.CommonPrefixes {
			fmt.Fprintf(cmd.OutOrStdout(), "PRE %s\n", cp)
		}
		for _, entry := range res.Contents {
			fmt.Fprintln(cmd.OutOrStdout(), entry.Key)
		}
		if res.IsTruncated {
			fmt.Fprintf(cmd.OutOrStdout(), "... truncated, next marker %q\n", res.NextMarker)
		}
		return nil
	}
	cmd.AddCommand(listCmd)

	return cmd
}
