package sqlstore

import (
	"github.com/gallerio/go-storage/core"
	"github.com/gallerio/go-storage/ratelimit"
)

var (
	_ core.ConnectionStore = (*ConnectionStore)(nil)
	_ core.FolderStore     = (*FolderStore)(nil)
	_ core.PhotoStore      = (*PhotoStore)(nil)
	_ core.SyncStateStore  = (*SyncStateStore)(nil)
	_ core.ShareLinkStore  = (*ShareLinkStore)(nil)
	_ core.AuditStore      = (*AuditStore)(nil)
	_ ratelimit.StateStore = (*RateStateStore)(nil)
	_ ratelimit.StateStore = (*CachedRateStateStore)(nil)
)
