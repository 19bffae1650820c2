package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[ConnectMessage]         = (*ConnectCommand)(nil)
	_ gocmd.Commander[DisconnectMessage]      = (*DisconnectCommand)(nil)
	_ gocmd.Commander[UploadPhotoMessage]     = (*UploadPhotoCommand)(nil)
	_ gocmd.Commander[DeletePhotoMessage]     = (*DeletePhotoCommand)(nil)
	_ gocmd.Commander[RenamePhotoMessage]     = (*RenamePhotoCommand)(nil)
	_ gocmd.Commander[CreateShareLinkMessage] = (*CreateShareLinkCommand)(nil)
	_ gocmd.Commander[RevokeShareLinkMessage] = (*RevokeShareLinkCommand)(nil)
	_ gocmd.Commander[TriggerSyncMessage]     = (*TriggerSyncCommand)(nil)
)
