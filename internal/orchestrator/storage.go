package orchestrator

import (
	"context"
	"errors"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/yairfalse/nimbus/internal/guard"
	"github.com/yairfalse/nimbus/internal/opserr"
	"github.com/yairfalse/nimbus/internal/paginate"
	"github.com/yairfalse/nimbus/pkg/resource"
)

var errStillPresent = errors.New("object still present after drain")

// ListContainers returns all buckets.
func (o *Orchestrator) ListContainers(ctx context.Context) ([]resource.Container, error) {
	return track(ctx, o, "list_containers", "", func(ctx context.Context) ([]resource.Container, error) {
		if o.clients.Storage == nil {
			return nil, opserr.Invalid("no storage client configured")
		}
		containers, err := o.clients.Storage.ListContainers(ctx)
		if err != nil {
			return nil, opserr.External("list_containers", "", err)
		}
		if containers == nil {
			containers = []resource.Container{}
		}
		return containers, nil
	})
}

// CreateContainer creates a bucket in region, or the client's region when empty.
func (o *Orchestrator) CreateContainer(ctx context.Context, name, region string) (resource.Container, error) {
	return track(ctx, o, "create_container", resource.Handle(name), func(ctx context.Context) (resource.Container, error) {
		if err := o.requireStorage(name); err != nil {
			return resource.Container{}, err
		}
		if err := o.clients.Storage.CreateContainer(ctx, name, region); err != nil {
			return resource.Container{}, opserr.External("create_container", resource.Handle(name), err)
		}
		log.Info().Str("bucket", name).Str("region", region).Msg("bucket created")
		return resource.Container{Name: name, Region: region, CreatedAt: o.now().UTC()}, nil
	})
}

// UploadObject stores body under key.
func (o *Orchestrator) UploadObject(ctx context.Context, container, key string, body io.Reader) error {
	_, err := track(ctx, o, "upload_object", resource.Handle(key), func(ctx context.Context) (struct{}, error) {
		if err := o.requireObject(container, key); err != nil {
			return struct{}{}, err
		}
		if err := o.clients.Storage.PutObject(ctx, container, key, body); err != nil {
			return struct{}{}, opserr.External("upload_object", resource.Handle(key), err)
		}
		log.Info().Str("bucket", container).Str("key", key).Msg("object uploaded")
		return struct{}{}, nil
	})
	return err
}

// DownloadObject writes an object into dst and returns the bytes written.
func (o *Orchestrator) DownloadObject(ctx context.Context, container, key string, dst io.WriterAt) (int64, error) {
	return track(ctx, o, "download_object", resource.Handle(key), func(ctx context.Context) (int64, error) {
		if err := o.requireObject(container, key); err != nil {
			return 0, err
		}
		n, err := o.clients.Storage.GetObject(ctx, container, key, dst)
		if err != nil {
			return n, opserr.External("download_object", resource.Handle(key), err)
		}
		return n, nil
	})
}

// ListObjects returns up to limit objects under prefix. A zero limit lists
// everything up to the drain ceiling.
func (o *Orchestrator) ListObjects(ctx context.Context, container, prefix string, limit int) ([]resource.Object, error) {
	return track(ctx, o, "list_objects", resource.Handle(container), func(ctx context.Context) ([]resource.Object, error) {
		if err := o.requireStorage(container); err != nil {
			return nil, err
		}
		if limit < 0 {
			return nil, opserr.Invalid("limit must not be negative")
		}
		if limit == 0 {
			limit = o.opts.MaxDrainObjects
		}
		objects, err := o.collectObjects(ctx, container, prefix, limit)
		if err != nil {
			return nil, opserr.External("list_objects", resource.Handle(container), err)
		}
		return objects, nil
	})
}

// DeleteObject removes one object.
func (o *Orchestrator) DeleteObject(ctx context.Context, container, key string) error {
	_, err := track(ctx, o, "delete_object", resource.Handle(key), func(ctx context.Context) (struct{}, error) {
		if err := o.requireObject(container, key); err != nil {
			return struct{}{}, err
		}
		if err := o.guard.Check(ctx, guard.Request{
			Operation: guard.OpDeleteObject,
			Handle:    resource.Handle(key),
			Container: container,
		}); err != nil {
			return struct{}{}, err
		}
		if err := o.clients.Storage.DeleteObject(ctx, container, key); err != nil {
			return struct{}{}, opserr.External("delete_object", resource.Handle(key), err)
		}
		return struct{}{}, nil
	})
	return err
}

// DeleteContainer removes every object in the bucket and then the bucket. Every
// object delete is attempted; if any fails, or objects remain afterwards, the
// bucket delete is not sent and *opserr.ContainerNotEmptyError lists what is
// left.
func (o *Orchestrator) DeleteContainer(ctx context.Context, name string) (DrainResult, error) {
	h := resource.Handle(name)
	return track(ctx, o, "delete_container", h, func(ctx context.Context) (DrainResult, error) {
		if err := o.requireStorage(name); err != nil {
			return DrainResult{}, err
		}
		if err := o.guard.Check(ctx, guard.Request{
			Operation: guard.OpDeleteContainer,
			Handle:    h,
			Container: name,
		}); err != nil {
			return DrainResult{}, err
		}

		objects, err := o.collectObjects(ctx, name, "", o.opts.MaxDrainObjects)
		if err != nil {
			return DrainResult{}, opserr.External("delete_container", h, err)
		}

		logger := log.With().Str("bucket", name).Logger()
		logger.Info().Int("objects", len(objects)).Msg("draining bucket")

		result := DrainResult{Container: name, Deleted: make([]string, 0, len(objects))}
		undeleted := make(map[string]error)
		for _, obj := range objects {
			if err := ctx.Err(); err != nil {
				return result, opserr.Cancelled("delete_container", h, err)
			}
			if err := o.clients.Storage.DeleteObject(ctx, name, obj.Key); err != nil {
				undeleted[obj.Key] = opserr.External("delete_object", resource.Handle(obj.Key), err)
				logger.Warn().Err(err).Str("key", obj.Key).Msg("object delete failed")
				continue
			}
			result.Deleted = append(result.Deleted, obj.Key)
		}
		if len(undeleted) > 0 {
			return result, &opserr.ContainerNotEmptyError{Container: name, Deleted: result.Deleted, Undeleted: undeleted}
		}

		remaining, err := o.clients.Storage.ListObjects(ctx, name, "", "")
		if err != nil {
			return result, opserr.External("delete_container", h, err)
		}
		if len(remaining.Items) > 0 {
			for _, obj := range remaining.Items {
				undeleted[obj.Key] = errStillPresent
			}
			return result, &opserr.ContainerNotEmptyError{Container: name, Deleted: result.Deleted, Undeleted: undeleted}
		}

		if err := o.clients.Storage.DeleteContainer(ctx, name); err != nil {
			return result, opserr.External("delete_container", h, err)
		}
		logger.Info().Int("deleted", len(result.Deleted)).Msg("bucket deleted")
		return result, nil
	})
}

func (o *Orchestrator) collectObjects(ctx context.Context, container, prefix string, limit int) ([]resource.Object, error) {
	return paginate.Collect(ctx, limit, func(ctx context.Context, cursor string) (resource.Page[resource.Object], error) {
		return o.clients.Storage.ListObjects(ctx, container, prefix, cursor)
	})
}

func (o *Orchestrator) requireStorage(container string) error {
	if o.clients.Storage == nil {
		return opserr.Invalid("no storage client configured")
	}
	if container == "" {
		return opserr.Invalid("bucket name required")
	}
	return nil
}

func (o *Orchestrator) requireObject(container, key string) error {
	if err := o.requireStorage(container); err != nil {
		return err
	}
	if key == "" {
		return opserr.Invalid("object key required")
	}
	return nil
}
