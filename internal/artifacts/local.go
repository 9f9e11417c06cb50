package artifacts

import (
	"context"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/urdimbre/urdimbre-go/internal/config"
	qerr "github.com/urdimbre/urdimbre-go/internal/errors"
)

// LocalStore implements Store over a filesystem. It backs two deployment
// shapes: the ARTIFACTS_ALLOW_LOCAL_FALLBACK development mode (OS filesystem
// under a base path) and FORCE_MOCK_BLOBS (in-memory FS for tests).
type LocalStore struct {
	fs     afero.Fs
	base   string
	strict bool
	logger *logrus.Logger
}

// NewLocalStore creates a filesystem-backed artifact store rooted at base.
func NewLocalStore(fs afero.Fs, base string, strict bool, logger *logrus.Logger) (*LocalStore, error) {
	if base == "" {
		return nil, qerr.StorageUnavailable(fmt.Errorf("local artifact path not configured"))
	}
	if err := fs.MkdirAll(base, 0o755); err != nil {
		return nil, qerr.StorageUnavailable(fmt.Errorf("create artifact root %s: %w", base, err))
	}
	logger.WithFields(logrus.Fields{"base": base, "strict": strict}).Info("local artifact store ready")
	return &LocalStore{fs: fs, base: base, strict: strict, logger: logger}, nil
}

// NewMockStore returns an in-memory store for FORCE_MOCK_BLOBS runs.
func NewMockStore(strict bool, logger *logrus.Logger) *LocalStore {
	s, _ := NewLocalStore(afero.NewMemMapFs(), "/blobs", strict, logger)
	return s
}

// NewStore selects the artifact backend from configuration: mock blobs win,
// then the object store, then the local fallback when the flag allows it.
func NewStore(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (Store, error) {
	if cfg.Flags.ForceMockBlobs {
		logger.Warn("FORCE_MOCK_BLOBS set: artifacts are not durable")
		return NewMockStore(cfg.Strict(), logger), nil
	}
	if cfg.Artifacts.Endpoint != "" {
		return NewMinioStore(ctx, cfg.Artifacts.Endpoint, cfg.Artifacts.AccessKey,
			cfg.Artifacts.SecretKey, cfg.Artifacts.Bucket, cfg.Artifacts.UseSSL, cfg.Strict(), logger)
	}
	if cfg.Flags.ArtifactsAllowLocalFallback {
		logger.Warn("no object store configured, using local artifact fallback")
		return NewLocalStore(afero.NewOsFs(), cfg.Artifacts.LocalPath, cfg.Strict(), logger)
	}
	return nil, qerr.StorageUnavailable(fmt.Errorf("no artifact backend configured and local fallback not allowed"))
}

func (s *LocalStore) Container() string { return s.base }

func (s *LocalStore) abs(name string) string { return path.Join(s.base, name) }

func (s *LocalStore) Put(ctx context.Context, org, project, logicalPath string, data []byte, contentType string) (*WriteReceipt, error) {
	name, err := blobName(org, project, logicalPath, s.strict)
	if err != nil {
		return nil, err
	}
	if org == "" {
		s.logger.WithField("blob", name).Warn("orgless artifact write permitted in non-strict mode")
	}

	full := s.abs(name)
	if err := s.fs.MkdirAll(path.Dir(full), 0o755); err != nil {
		return nil, qerr.TransientIO(err)
	}
	if err := afero.WriteFile(s.fs, full, data, 0o644); err != nil {
		return nil, qerr.TransientIO(err)
	}

	return &WriteReceipt{
		URL:    "file://" + full,
		Name:   name,
		SHA256: checksum(data),
		Bytes:  int64(len(data)),
	}, nil
}

func (s *LocalStore) Get(ctx context.Context, container, blobName string) ([]byte, error) {
	data, err := afero.ReadFile(s.fs, s.abs(blobName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, qerr.NotFoundf("blob %s not found", blobName)
		}
		return nil, qerr.TransientIO(err)
	}
	return data, nil
}

func (s *LocalStore) List(ctx context.Context, container, prefix string, limit int) ([]BlobInfo, error) {
	var infos []BlobInfo
	err := afero.Walk(s.fs, s.base, func(p string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(p, s.base), "/")
		if !strings.HasPrefix(rel, prefix) {
			return nil
		}
		infos = append(infos, BlobInfo{Name: rel, Size: info.Size(), LastModified: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, qerr.TransientIO(err)
	}
	// Walk order is filesystem-dependent; listings sort by name for stable
	// pagination like the object store.
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	if limit > 0 && len(infos) > limit {
		infos = infos[:limit]
	}
	return infos, nil
}

func (s *LocalStore) DeletePrefix(ctx context.Context, container, prefix string) (int, error) {
	if prefix == "" || prefix == "/" {
		return 0, qerr.Validation("delete_prefix requires a non-empty prefix")
	}
	infos, err := s.List(ctx, container, prefix, 0)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, info := range infos {
		if err := s.fs.Remove(s.abs(info.Name)); err != nil {
			return deleted, qerr.TransientIO(err)
		}
		deleted++
	}
	return deleted, nil
}
