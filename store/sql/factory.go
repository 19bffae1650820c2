package sqlstore

import (
	"fmt"

	"github.com/gallerio/go-storage/core"
	"github.com/gallerio/go-storage/ratelimit"
	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"
)

// RepositoryFactory wires every relational store off a single bun handle.
type RepositoryFactory struct {
	db *bun.DB

	connectionStore *ConnectionStore
	folderStore     *FolderStore
	photoStore      *PhotoStore
	syncStateStore  *SyncStateStore
	shareLinkStore  *ShareLinkStore
	auditStore      *AuditStore
	rateStateStore  *RateStateStore
}

func NewRepositoryFactory() *RepositoryFactory {
	return &RepositoryFactory{}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

// BuildStores accepts either a *bun.DB or anything exposing DB() *bun.DB,
// such as a go-persistence-bun client.
func (f *RepositoryFactory) BuildStores(persistenceClient any) error {
	if f == nil {
		return fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return err
		}
		f.db = db
	}
	if f.connectionStore != nil {
		return nil
	}
	return f.initStores()
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) ConnectionStore() core.ConnectionStore {
	if f == nil {
		return nil
	}
	return f.connectionStore
}

func (f *RepositoryFactory) FolderStore() core.FolderStore {
	if f == nil {
		return nil
	}
	return f.folderStore
}

func (f *RepositoryFactory) PhotoStore() core.PhotoStore {
	if f == nil {
		return nil
	}
	return f.photoStore
}

func (f *RepositoryFactory) SyncStateStore() core.SyncStateStore {
	if f == nil {
		return nil
	}
	return f.syncStateStore
}

func (f *RepositoryFactory) ShareLinkStore() core.ShareLinkStore {
	if f == nil {
		return nil
	}
	return f.shareLinkStore
}

func (f *RepositoryFactory) AuditStore() core.AuditStore {
	if f == nil {
		return nil
	}
	return f.auditStore
}

func (f *RepositoryFactory) RateStateStore() ratelimit.StateStore {
	if f == nil {
		return nil
	}
	return f.rateStateStore
}

func (f *RepositoryFactory) initStores() error {
	connectionStore, err := NewConnectionStore(f.db)
	if err != nil {
		return err
	}
	f.connectionStore = connectionStore

	folderStore, err := NewFolderStore(f.db)
	if err != nil {
		return err
	}
	f.folderStore = folderStore

	photoStore, err := NewPhotoStore(f.db)
	if err != nil {
		return err
	}
	f.photoStore = photoStore

	syncStateStore, err := NewSyncStateStore(f.db)
	if err != nil {
		return err
	}
	f.syncStateStore = syncStateStore

	shareLinkStore, err := NewShareLinkStore(f.db)
	if err != nil {
		return err
	}
	f.shareLinkStore = shareLinkStore

	auditStore, err := NewAuditStore(f.db)
	if err != nil {
		return err
	}
	f.auditStore = auditStore

	rateStateStore, err := NewRateStateStore(f.db)
	if err != nil {
		return err
	}
	f.rateStateStore = rateStateStore

	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
