// Package archive implements the cold tier: aged observation rows are
// copied into partitioned parquet objects, marked archived, and later
// deleted from the relational store. The object store is a narrow
// put/get/list/delete surface; only the local-filesystem driver is linked
// here, cloud drivers are injected by the hosting process.
package archive

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sawpanic/scouter/internal/config"
	scouterio "github.com/sawpanic/scouter/internal/io"
	"github.com/sawpanic/scouter/internal/scouterrors"
)

// ObjectStore is the key-value surface the archival manager and the cold
// read path need from any storage backend.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
}

// NewObjectStore selects a driver from the storage config. Cloud schemes
// must be provided by the caller; only local paths are constructed here.
func NewObjectStore(cfg config.StorageConfig) (ObjectStore, error) {
	if cfg.Scheme != config.StorageLocal {
		return nil, scouterrors.Newf(scouterrors.KindConfig, "archive.NewObjectStore",
			"storage scheme %q requires an injected driver", cfg.Scheme)
	}
	root := cfg.URI
	if root == "" {
		root = "scouter-archive"
	}
	return &LocalStore{root: root}, nil
}

// LocalStore keeps objects as files under a root directory. Writes go
// through an atomic temp-file rename so readers never observe partial
// parquet objects.
type LocalStore struct {
	root string
}

// NewLocalStore builds a store rooted at dir.
func NewLocalStore(dir string) *LocalStore { return &LocalStore{root: dir} }

func (s *LocalStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

func (s *LocalStore) Put(_ context.Context, key string, data []byte) error {
	if err := scouterio.WriteFileAtomic(s.path(key), data); err != nil {
		return scouterrors.New(scouterrors.KindPersistence, "archive.LocalStore.Put", err)
	}
	return nil
}

func (s *LocalStore) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, scouterrors.New(scouterrors.KindNotFound, "archive.LocalStore.Get", err)
		}
		return nil, scouterrors.New(scouterrors.KindPersistence, "archive.LocalStore.Get", err)
	}
	return data, nil
}

func (s *LocalStore) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.Walk(s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, rerr := filepath.Rel(s.root, path)
		if rerr != nil {
			return rerr
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, scouterrors.New(scouterrors.KindPersistence, "archive.LocalStore.List", err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *LocalStore) Delete(_ context.Context, key string) error {
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return scouterrors.New(scouterrors.KindPersistence, "archive.LocalStore.Delete", err)
	}
	return nil
}
