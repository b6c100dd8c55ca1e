package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/yairfalse/nimbus/internal/opserr"
	"github.com/yairfalse/nimbus/pkg/resource"
)

var (
	bucketRegion string
	lsPrefix     string
	lsLimit      int
	getOutFile   string
	drainConfirm string
)

var storageCmd = &cobra.Command{
	Use:     "storage",
	Aliases: []string{"s3"},
	Short:   "Manage buckets and objects",
}

var storageBucketsCmd = &cobra.Command{
	Use:   "buckets",
	Short: "List buckets",
	Args:  cobra.NoArgs,
	RunE: runE(func(ctx context.Context, a *app) error {
		containers, err := a.orch.ListContainers(ctx)
		if err != nil {
			return err
		}
		return a.out.print(containers, func(w io.Writer) error {
			rows := make([][]string, len(containers))
			for i, c := range containers {
				rows[i] = []string{c.Name, c.Region, formatTime(c.CreatedAt)}
			}
			return writeTable(w, []string{"NAME", "REGION", "CREATED"}, rows)
		})
	}),
}

var storageCreateCmd = &cobra.Command{
	Use:   "create <bucket>",
	Short: "Create a bucket",
	Args:  cobra.ExactArgs(1),
	RunE: withArgs(func(ctx context.Context, a *app, args []string) error {
		c, err := a.orch.CreateContainer(ctx, args[0], bucketRegion)
		if err != nil {
			return err
		}
		return a.out.print(c, func(w io.Writer) error {
			_, err := fmt.Fprintf(w, "created %s\n", c.Name)
			return err
		})
	}),
}

var storageDeleteCmd = &cobra.Command{
	Use:   "delete <bucket> --confirm <bucket>",
	Short: "Delete every object in a bucket, then the bucket",
	Long: `Delete every object in a bucket, then the bucket.

Every object delete is attempted. If any object cannot be removed the
bucket itself is left in place and the remaining keys are listed.
--confirm must repeat the bucket name.`,
	Args: cobra.ExactArgs(1),
	RunE: withArgs(func(ctx context.Context, a *app, args []string) error {
		name := args[0]
		if drainConfirm != name {
			return &opserr.ConfirmationError{Op: "delete_container", Handle: resource.Handle(name)}
		}

		res, err := a.orch.DeleteContainer(ctx, name)
		var notEmpty *opserr.ContainerNotEmptyError
		if errors.As(err, &notEmpty) {
			_ = a.out.print(drainFailure(notEmpty), func(w io.Writer) error {
				for _, k := range notEmpty.UndeletedKeys() {
					if _, err := fmt.Fprintf(w, "not deleted: %s: %v\n", k, notEmpty.Undeleted[k]); err != nil {
						return err
					}
				}
				return nil
			})
		}
		if err != nil {
			return err
		}
		return a.out.print(res, func(w io.Writer) error {
			_, err := fmt.Fprintf(w, "deleted %s (%d objects)\n", res.Container, len(res.Deleted))
			return err
		})
	}),
}

var storageLsCmd = &cobra.Command{
	Use:   "ls <bucket>",
	Short: "List objects in a bucket",
	Args:  cobra.ExactArgs(1),
	RunE: withArgs(func(ctx context.Context, a *app, args []string) error {
		objects, err := a.orch.ListObjects(ctx, args[0], lsPrefix, lsLimit)
		if err != nil {
			return err
		}
		return a.out.print(objects, func(w io.Writer) error {
			rows := make([][]string, len(objects))
			for i, o := range objects {
				rows[i] = []string{o.Key, strconv.FormatInt(o.Size, 10), formatTime(o.LastModified)}
			}
			return writeTable(w, []string{"KEY", "SIZE", "MODIFIED"}, rows)
		})
	}),
}

var storagePutCmd = &cobra.Command{
	Use:   "put <file> <bucket> [key]",
	Short: "Upload a file",
	Args:  cobra.RangeArgs(2, 3),
	RunE: withArgs(func(ctx context.Context, a *app, args []string) error {
		path, bucket := args[0], args[1]
		key := filepath.Base(path)
		if len(args) == 3 {
			key = args[2]
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		if err := a.orch.UploadObject(ctx, bucket, key, f); err != nil {
			return err
		}
		v := map[string]string{"bucket": bucket, "key": key}
		return a.out.print(v, func(w io.Writer) error {
			_, err := fmt.Fprintf(w, "uploaded s3://%s/%s\n", bucket, key)
			return err
		})
	}),
}

var storageGetCmd = &cobra.Command{
	Use:   "get <bucket> <key>",
	Short: "Download an object",
	Args:  cobra.ExactArgs(2),
	RunE: withArgs(func(ctx context.Context, a *app, args []string) error {
		bucket, key := args[0], args[1]
		dst := getOutFile
		if dst == "" {
			dst = filepath.Base(key)
		}

		f, err := os.Create(dst)
		if err != nil {
			return err
		}
		n, err := a.orch.DownloadObject(ctx, bucket, key, f)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(dst)
			return err
		}

		v := map[string]any{"bucket": bucket, "key": key, "file": dst, "bytes": n}
		return a.out.print(v, func(w io.Writer) error {
			_, err := fmt.Fprintf(w, "downloaded s3://%s/%s to %s (%d bytes)\n", bucket, key, dst, n)
			return err
		})
	}),
}

var storageRmCmd = &cobra.Command{
	Use:   "rm <bucket> <key>",
	Short: "Delete an object",
	Args:  cobra.ExactArgs(2),
	RunE: withArgs(func(ctx context.Context, a *app, args []string) error {
		if err := a.orch.DeleteObject(ctx, args[0], args[1]); err != nil {
			return err
		}
		v := map[string]string{"bucket": args[0], "key": args[1]}
		return a.out.print(v, func(w io.Writer) error {
			_, err := fmt.Fprintf(w, "deleted s3://%s/%s\n", args[0], args[1])
			return err
		})
	}),
}

func init() {
	rootCmd.AddCommand(storageCmd)
	storageCmd.AddCommand(
		storageBucketsCmd,
		storageCreateCmd,
		storageDeleteCmd,
		storageLsCmd,
		storagePutCmd,
		storageGetCmd,
		storageRmCmd,
	)

	storageCreateCmd.Flags().StringVar(&bucketRegion, "bucket-region", "", "Bucket region (default: the configured region)")
	storageDeleteCmd.Flags().StringVar(&drainConfirm, "confirm", "", "Repeat the bucket name to confirm deletion")
	storageLsCmd.Flags().StringVar(&lsPrefix, "prefix", "", "Only list keys with this prefix")
	storageLsCmd.Flags().IntVar(&lsLimit, "limit", 1000, "Maximum objects to list (0 lists everything)")
	storageGetCmd.Flags().StringVarP(&getOutFile, "out", "f", "", "Destination file (default: the key's base name)")
}

type undeletedReport struct {
	Container string            `json:"container" yaml:"container"`
	Deleted   []string          `json:"deleted" yaml:"deleted"`
	Undeleted map[string]string `json:"undeleted" yaml:"undeleted"`
}

func drainFailure(e *opserr.ContainerNotEmptyError) undeletedReport {
	r := undeletedReport{Container: e.Container, Deleted: e.Deleted, Undeleted: make(map[string]string, len(e.Undeleted))}
	for k, err := range e.Undeleted {
		r.Undeleted[k] = err.Error()
	}
	return r
}
