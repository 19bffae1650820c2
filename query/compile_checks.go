package query

import (
	"github.com/gallerio/go-storage/core"
	gocmd "github.com/goliatone/go-command"
)

var (
	_ gocmd.Querier[GetGalleryPhotosMessage, []core.Photo]             = (*GetGalleryPhotosQuery)(nil)
	_ gocmd.Querier[GetConnectedProvidersMessage, []core.ProviderInfo] = (*GetConnectedProvidersQuery)(nil)
	_ gocmd.Querier[GetConnectionMessage, core.Connection]             = (*GetConnectionQuery)(nil)
	_ gocmd.Querier[GetRateUsageMessage, []core.RateUsage]             = (*GetRateUsageQuery)(nil)
	_ gocmd.Querier[GetPhotoURLMessage, string]                        = (*GetPhotoURLQuery)(nil)
	_ gocmd.Querier[ResolveShareLinkMessage, core.ShareLink]           = (*ResolveShareLinkQuery)(nil)
)
