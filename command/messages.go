package command

import (
	"fmt"
	"strings"

	"github.com/gallerio/go-storage/core"
)

const (
	TypeConnect         = "storage.command.connect"
	TypeDisconnect      = "storage.command.disconnect"
	TypeUploadPhoto     = "storage.command.photo.upload"
	TypeDeletePhoto     = "storage.command.photo.delete"
	TypeRenamePhoto     = "storage.command.photo.rename"
	TypeCreateShareLink = "storage.command.share.create"
	TypeRevokeShareLink = "storage.command.share.revoke"
	TypeTriggerSync     = "storage.command.sync.trigger"
)

type ConnectMessage struct {
	Input core.ConnectInput
}

func (ConnectMessage) Type() string { return TypeConnect }

func (m ConnectMessage) Validate() error {
	if strings.TrimSpace(m.Input.UserID) == "" {
		return fmt.Errorf("command: user id is required")
	}
	if strings.TrimSpace(m.Input.Provider) == "" {
		return fmt.Errorf("command: provider is required")
	}
	if strings.TrimSpace(m.Input.AccessToken) == "" {
		return fmt.Errorf("command: access token is required")
	}
	return nil
}

type DisconnectMessage struct {
	UserID   string
	Provider string
	Reason   string
}

func (DisconnectMessage) Type() string { return TypeDisconnect }

func (m DisconnectMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return fmt.Errorf("command: user id is required")
	}
	if strings.TrimSpace(m.Provider) == "" {
		return fmt.Errorf("command: provider is required")
	}
	return nil
}

type UploadPhotoMessage struct {
	Input core.UploadPhotoInput
}

func (UploadPhotoMessage) Type() string { return TypeUploadPhoto }

func (m UploadPhotoMessage) Validate() error {
	if err := m.Input.Validate(); err != nil {
		return fmt.Errorf("command: %w", err)
	}
	return nil
}

type DeletePhotoMessage struct {
	UserID  string
	PhotoID string
}

func (DeletePhotoMessage) Type() string { return TypeDeletePhoto }

func (m DeletePhotoMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return fmt.Errorf("command: user id is required")
	}
	if strings.TrimSpace(m.PhotoID) == "" {
		return fmt.Errorf("command: photo id is required")
	}
	return nil
}

type RenamePhotoMessage struct {
	UserID  string
	PhotoID string
	Name    string
}

func (RenamePhotoMessage) Type() string { return TypeRenamePhoto }

func (m RenamePhotoMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return fmt.Errorf("command: user id is required")
	}
	if strings.TrimSpace(m.PhotoID) == "" {
		return fmt.Errorf("command: photo id is required")
	}
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("command: photo name is required")
	}
	return nil
}

type CreateShareLinkMessage struct {
	Input core.CreateShareInput
}

func (CreateShareLinkMessage) Type() string { return TypeCreateShareLink }

func (m CreateShareLinkMessage) Validate() error {
	if strings.TrimSpace(m.Input.UserID) == "" {
		return fmt.Errorf("command: user id is required")
	}
	if strings.TrimSpace(m.Input.GalleryID) == "" {
		return fmt.Errorf("command: gallery id is required")
	}
	return nil
}

type RevokeShareLinkMessage struct {
	UserID  string
	ShareID string
}

func (RevokeShareLinkMessage) Type() string { return TypeRevokeShareLink }

func (m RevokeShareLinkMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return fmt.Errorf("command: user id is required")
	}
	if strings.TrimSpace(m.ShareID) == "" {
		return fmt.Errorf("command: share link id is required")
	}
	return nil
}

type TriggerSyncMessage struct {
	UserID   string
	Provider string
}

func (TriggerSyncMessage) Type() string { return TypeTriggerSync }

func (m TriggerSyncMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return fmt.Errorf("command: user id is required")
	}
	if strings.TrimSpace(m.Provider) == "" {
		return fmt.Errorf("command: provider is required")
	}
	return nil
}
