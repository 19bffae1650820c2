package query

import (
	"fmt"
	"strings"
)

const (
	TypeGetGalleryPhotos      = "storage.query.gallery.photos"
	TypeGetConnectedProviders = "storage.query.providers.connected"
	TypeGetConnection         = "storage.query.connection.get"
	TypeGetRateUsage          = "storage.query.rate.usage"
	TypeGetPhotoURL           = "storage.query.photo.url"
	TypeResolveShareLink      = "storage.query.share.resolve"
)

type GetGalleryPhotosMessage struct {
	GalleryID string
}

func (GetGalleryPhotosMessage) Type() string { return TypeGetGalleryPhotos }

func (m GetGalleryPhotosMessage) Validate() error {
	if strings.TrimSpace(m.GalleryID) == "" {
		return fmt.Errorf("query: gallery id is required")
	}
	return nil
}

type GetConnectedProvidersMessage struct {
	UserID string
}

func (GetConnectedProvidersMessage) Type() string { return TypeGetConnectedProviders }

func (m GetConnectedProvidersMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return fmt.Errorf("query: user id is required")
	}
	return nil
}

type GetConnectionMessage struct {
	UserID   string
	Provider string
}

func (GetConnectionMessage) Type() string { return TypeGetConnection }

func (m GetConnectionMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return fmt.Errorf("query: user id is required")
	}
	if strings.TrimSpace(m.Provider) == "" {
		return fmt.Errorf("query: provider is required")
	}
	return nil
}

type GetRateUsageMessage struct {
	Provider string
}

func (GetRateUsageMessage) Type() string { return TypeGetRateUsage }

func (m GetRateUsageMessage) Validate() error {
	if strings.TrimSpace(m.Provider) == "" {
		return fmt.Errorf("query: provider is required")
	}
	return nil
}

type GetPhotoURLMessage struct {
	UserID  string
	PhotoID string
}

func (GetPhotoURLMessage) Type() string { return TypeGetPhotoURL }

func (m GetPhotoURLMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return fmt.Errorf("query: user id is required")
	}
	if strings.TrimSpace(m.PhotoID) == "" {
		return fmt.Errorf("query: photo id is required")
	}
	return nil
}

type ResolveShareLinkMessage struct {
	Token string
	// Password is the plaintext candidate; empty for unprotected links.
	Password string
}

func (ResolveShareLinkMessage) Type() string { return TypeResolveShareLink }

func (m ResolveShareLinkMessage) Validate() error {
	if strings.TrimSpace(m.Token) == "" {
		return fmt.Errorf("query: share token is required")
	}
	return nil
}
