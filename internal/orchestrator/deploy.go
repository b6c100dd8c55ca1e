package orchestrator

import (
	"context"
	"io"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/yairfalse/nimbus/internal/opserr"
	"github.com/yairfalse/nimbus/pkg/resource"
)

var bundleTypes = map[string]bool{"zip": true, "tar": true, "tgz": true}

// Deploy triggers a rollout of a stored artifact and returns as soon as the
// deployment is created. It does not wait for the rollout to finish.
func (o *Orchestrator) Deploy(ctx context.Context, spec resource.DeploySpec) (resource.Deployment, error) {
	return track(ctx, o, "deploy", resource.Handle(spec.Application), func(ctx context.Context) (resource.Deployment, error) {
		if o.clients.Deployer == nil {
			return resource.Deployment{}, opserr.Invalid("no deployer configured")
		}
		spec.BundleType = strings.ToLower(spec.BundleType)
		if spec.BundleType == "" {
			spec.BundleType = "zip"
		}
		switch {
		case spec.Application == "":
			return resource.Deployment{}, opserr.Invalid("application name required")
		case spec.Group == "":
			return resource.Deployment{}, opserr.Invalid("deployment group required")
		case spec.Bucket == "" || spec.Key == "":
			return resource.Deployment{}, opserr.Invalid("artifact bucket and key required")
		case !bundleTypes[spec.BundleType]:
			return resource.Deployment{}, opserr.Invalid("unsupported bundle type %q", spec.BundleType)
		}

		id, err := o.clients.Deployer.CreateDeployment(ctx, spec)
		if err != nil {
			return resource.Deployment{}, opserr.External("deploy", resource.Handle(spec.Application), err)
		}

		log.Info().
			Str("deployment_id", id).
			Str("application", spec.Application).
			Str("group", spec.Group).
			Str("artifact", spec.Bucket+"/"+spec.Key).
			Msg("deployment created")
		return resource.Deployment{ID: id, Spec: spec, CreatedAt: o.now().UTC()}, nil
	})
}

// UploadArtifact stores a deployment artifact and returns the location to
// deploy it from.
func (o *Orchestrator) UploadArtifact(ctx context.Context, bucket, key string, body io.Reader) (resource.DeploySpec, error) {
	if err := o.UploadObject(ctx, bucket, key, body); err != nil {
		return resource.DeploySpec{}, err
	}
	return resource.DeploySpec{Bucket: bucket, Key: key, BundleType: bundleOf(key)}, nil
}

// bundleOf infers the bundle type from an artifact name.
func bundleOf(key string) string {
	switch k := strings.ToLower(key); {
	case strings.HasSuffix(k, ".tar.gz"), strings.HasSuffix(k, ".tgz"):
		return "tgz"
	case strings.HasSuffix(k, ".tar"):
		return "tar"
	default:
		return "zip"
	}
}
