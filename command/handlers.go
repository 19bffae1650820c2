package command

import (
	"context"

	"github.com/gallerio/go-storage/core"
	gocmd "github.com/goliatone/go-command"
)

// MutatingService is the write surface of the storage service. *core.Service
// satisfies it.
type MutatingService interface {
	Connect(ctx context.Context, in core.ConnectInput) (core.Connection, error)
	InvalidateConnection(ctx context.Context, userID string, provider string, reason string) error
	UploadPhoto(ctx context.Context, in core.UploadPhotoInput) (core.Photo, error)
	DeletePhoto(ctx context.Context, userID string, photoID string) error
	UpdatePhotoName(ctx context.Context, userID string, photoID string, name string) (core.Photo, error)
	CreateShareLink(ctx context.Context, in core.CreateShareInput) (core.ShareLink, error)
	RevokeShareLink(ctx context.Context, userID string, shareID string) error
}

// SyncTrigger runs one on-demand sync pass. *sync.Engine satisfies it.
type SyncTrigger interface {
	SyncUser(ctx context.Context, userID string, provider string) error
}

type ConnectCommand struct {
	service MutatingService
}

func NewConnectCommand(service MutatingService) *ConnectCommand {
	return &ConnectCommand{service: service}
}

func (c *ConnectCommand) Execute(ctx context.Context, msg ConnectMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: connect service is required")
	}
	out, err := c.service.Connect(ctx, msg.Input)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type DisconnectCommand struct {
	service MutatingService
}

func NewDisconnectCommand(service MutatingService) *DisconnectCommand {
	return &DisconnectCommand{service: service}
}

func (c *DisconnectCommand) Execute(ctx context.Context, msg DisconnectMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: disconnect service is required")
	}
	return c.service.InvalidateConnection(ctx, msg.UserID, msg.Provider, msg.Reason)
}

type UploadPhotoCommand struct {
	service MutatingService
}

func NewUploadPhotoCommand(service MutatingService) *UploadPhotoCommand {
	return &UploadPhotoCommand{service: service}
}

func (c *UploadPhotoCommand) Execute(ctx context.Context, msg UploadPhotoMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: upload service is required")
	}
	out, err := c.service.UploadPhoto(ctx, msg.Input)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type DeletePhotoCommand struct {
	service MutatingService
}

func NewDeletePhotoCommand(service MutatingService) *DeletePhotoCommand {
	return &DeletePhotoCommand{service: service}
}

func (c *DeletePhotoCommand) Execute(ctx context.Context, msg DeletePhotoMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: delete service is required")
	}
	return c.service.DeletePhoto(ctx, msg.UserID, msg.PhotoID)
}

type RenamePhotoCommand struct {
	service MutatingService
}

func NewRenamePhotoCommand(service MutatingService) *RenamePhotoCommand {
	return &RenamePhotoCommand{service: service}
}

func (c *RenamePhotoCommand) Execute(ctx context.Context, msg RenamePhotoMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: rename service is required")
	}
	out, err := c.service.UpdatePhotoName(ctx, msg.UserID, msg.PhotoID, msg.Name)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type CreateShareLinkCommand struct {
	service MutatingService
}

func NewCreateShareLinkCommand(service MutatingService) *CreateShareLinkCommand {
	return &CreateShareLinkCommand{service: service}
}

func (c *CreateShareLinkCommand) Execute(ctx context.Context, msg CreateShareLinkMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: share service is required")
	}
	out, err := c.service.CreateShareLink(ctx, msg.Input)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RevokeShareLinkCommand struct {
	service MutatingService
}

func NewRevokeShareLinkCommand(service MutatingService) *RevokeShareLinkCommand {
	return &RevokeShareLinkCommand{service: service}
}

func (c *RevokeShareLinkCommand) Execute(ctx context.Context, msg RevokeShareLinkMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: share service is required")
	}
	return c.service.RevokeShareLink(ctx, msg.UserID, msg.ShareID)
}

type TriggerSyncCommand struct {
	trigger SyncTrigger
}

func NewTriggerSyncCommand(trigger SyncTrigger) *TriggerSyncCommand {
	return &TriggerSyncCommand{trigger: trigger}
}

func (c *TriggerSyncCommand) Execute(ctx context.Context, msg TriggerSyncMessage) error {
	if c == nil || c.trigger == nil {
		return commandDependencyError("command: sync trigger is required")
	}
	return c.trigger.SyncUser(ctx, msg.UserID, msg.Provider)
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
