package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/yairfalse/nimbus/pkg/resource"
)

var (
	deploySpec   resource.DeploySpec
	deployUpload string
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy a stored artifact to a deployment group",
	Long: `Deploy a stored artifact to a deployment group.

The deployment is created and its id printed; nimbus does not wait for
the rollout. With --upload the file is first stored at --bucket/--key
(the key defaults to the file name) and its bundle type inferred from
the extension.`,
	Example: `  nimbus deploy --app web --group prod --bucket artifacts --key web-1.2.3.zip
  nimbus deploy --app web --group prod --bucket artifacts --upload ./web-1.2.3.tar.gz`,
	Args: cobra.NoArgs,
	RunE: runE(func(ctx context.Context, a *app) error {
		spec := deploySpec
		if deployUpload != "" {
			uploaded, err := uploadArtifact(ctx, a, deployUpload, spec)
			if err != nil {
				return err
			}
			spec = uploaded
		}

		d, err := a.orch.Deploy(ctx, spec)
		if err != nil {
			return err
		}
		return a.out.print(d, func(w io.Writer) error {
			_, err := fmt.Fprintf(w, "deployment %s created for %s/%s from s3://%s/%s (%s)\n",
				d.ID, d.Spec.Application, d.Spec.Group, d.Spec.Bucket, d.Spec.Key, d.Spec.BundleType)
			return err
		})
	}),
}

func init() {
	rootCmd.AddCommand(deployCmd)

	f := deployCmd.Flags()
	f.StringVar(&deploySpec.Application, "app", "", "Application name")
	f.StringVar(&deploySpec.Group, "group", "", "Deployment group")
	f.StringVar(&deploySpec.Bucket, "bucket", "", "Artifact bucket")
	f.StringVar(&deploySpec.Key, "key", "", "Artifact key")
	f.StringVar(&deploySpec.BundleType, "bundle-type", "", "zip, tar or tgz (default: zip, or inferred with --upload)")
	f.StringVar(&deployUpload, "upload", "", "Upload this file as the artifact first")
}

// uploadArtifact stores path and returns spec pointing at it.
func uploadArtifact(ctx context.Context, a *app, path string, spec resource.DeploySpec) (resource.DeploySpec, error) {
	key := spec.Key
	if key == "" {
		key = filepath.Base(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return spec, err
	}
	defer f.Close()

	stored, err := a.orch.UploadArtifact(ctx, spec.Bucket, key, f)
	if err != nil {
		return spec, err
	}
	spec.Key = stored.Key
	if spec.BundleType == "" {
		spec.BundleType = stored.BundleType
	}
	return spec, nil
}
