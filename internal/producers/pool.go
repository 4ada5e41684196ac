package producers

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/pxtool/px/internal/artifact"
	"github.com/pxtool/px/internal/cas"
	"github.com/pxtool/px/internal/oid"
	"github.com/pxtool/px/internal/pypi"
)

// Store is the subset of *cas.Store the download pool needs; satisfied
// by the real store and exercised against it in tests (no fake needed
// since cas.Open works against a t.TempDir()).
type Store interface {
	Put(ctx context.Context, obj oid.Object) (cas.StoredObject, error)
	AddRef(ctx context.Context, owner artifact.OwnerID, digest string) error
}

// DownloadJob is one pin to resolve to a cached artifact.
type DownloadJob struct {
	Spec  artifact.PinSpec
	Tags  Tags
	Owner artifact.OwnerID
}

// DownloadResult pairs a job with its resolved artifact.
type DownloadResult struct {
	Spec     artifact.PinSpec
	Artifact artifact.LockedArtifact
}

// DownloadAll resolves each job's wheel selection, downloads and stores
// it in CAS, and pins it under Owner, using a bounded worker pool (spec
// §4.2: "A pool of N worker threads pulls pins from a bounded channel").
// A failure in any job cancels the remaining ones via the errgroup's
// context; partial CAS writes are never corrupted since each Put is
// atomic (teacher's queue/*.go pattern, generalized from Redis-backed
// workers to an in-process errgroup pool since this core has no
// distributed workers).
func DownloadAll(ctx context.Context, store Store, client pypi.Client, jobs []DownloadJob, concurrency int) ([]DownloadResult, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	results := make([]DownloadResult, len(jobs))
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			result, err := downloadOne(gctx, store, client, job)
			if err != nil {
				return fmt.Errorf("producers: download %s: %w", job.Spec.Specifier(), err)
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func downloadOne(ctx context.Context, store Store, client pypi.Client, job DownloadJob) (DownloadResult, error) {
	files, err := client.ListFiles(ctx, job.Spec.Name, job.Spec.Version)
	if err != nil {
		return DownloadResult{}, err
	}
	wheel, ok := SelectWheel(files, job.Tags)
	if !ok {
		return DownloadResult{}, fmt.Errorf("no supported wheel for %s on %+v (sdist build required)", job.Spec.Specifier(), job.Tags)
	}
	payload, err := client.Download(ctx, wheel.URL)
	if err != nil {
		return DownloadResult{}, err
	}
	stored, err := store.Put(ctx, oid.Object{
		Kind: oid.KindPkgBuild,
		Header: map[string]any{
			"name":         job.Spec.Name,
			"version":      job.Spec.Version,
			"filename":     wheel.Filename,
			"python_tag":   wheel.PythonTag,
			"abi_tag":      wheel.ABITag,
			"platform_tag": wheel.PlatformTag,
		},
		Payload: payload,
	})
	if err != nil {
		return DownloadResult{}, err
	}
	if err := store.AddRef(ctx, job.Owner, stored.OID); err != nil {
		return DownloadResult{}, err
	}
	return DownloadResult{
		Spec: job.Spec,
		Artifact: artifact.LockedArtifact{
			Filename:    wheel.Filename,
			URL:         wheel.URL,
			SHA256:      wheel.SHA256,
			Size:        int64(len(payload)),
			CachedPath:  stored.Path,
			PythonTag:   wheel.PythonTag,
			ABITag:      wheel.ABITag,
			PlatformTag: wheel.PlatformTag,
		},
	}, nil
}
