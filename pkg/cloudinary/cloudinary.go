package cloudinary

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/cloudinary/cloudinary-go/v2/config"
)

// Folders under which the daemon stores media.
const (
	FolderAvatars     = "fgcmatch/avatars"
	FolderAttachments = "fgcmatch/support"
)

// Client uploads player media: avatars and support-ticket screenshots.
type Client interface {
	UploadImage(ctx context.Context, file io.Reader, folder, publicID string) (url, thumbnailURL string, err error)
	DeleteByURL(ctx context.Context, url string) error
}

// Optimized image params for fast frontend loading
const (
	ImageWidth = 800
	ThumbWidth = 200
)

// BuildOptimizedImageURL returns a Cloudinary URL with transformations for optimized delivery.
func BuildOptimizedImageURL(cloudName, publicID string, width int) string {
	if width <= 0 {
		width = ImageWidth
	}
	return fmt.Sprintf("https://res.cloudinary.com/%s/image/upload/q_auto,f_auto,w_%d,c_fill/%s",
		cloudName, width, publicID)
}

// PublicIDFromURL extracts the public id from a delivery URL, dropping any
// transformation, the version segment and the file extension.
func PublicIDFromURL(u string) (string, error) {
	_, rest, ok := strings.Cut(u, "/upload/")
	if !ok || rest == "" {
		return "", fmt.Errorf("not a cloudinary upload url: %q", u)
	}
	parts := strings.Split(rest, "/")
	start := 0
	for i, seg := range parts[:len(parts)-1] {
		if isVersion(seg) {
			start = i + 1
		}
	}
	if start == 0 {
		for start < len(parts)-1 && strings.Contains(parts[start], ",") {
			start++
		}
	}
	id := strings.Join(parts[start:], "/")
	id = strings.TrimSuffix(id, path.Ext(id))
	if id == "" {
		return "", fmt.Errorf("no public id in %q", u)
	}
	return id, nil
}

func isVersion(seg string) bool {
	if len(seg) < 2 || seg[0] != 'v' {
		return false
	}
	for _, r := range seg[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Eager transformation applied at upload time.
const imageEager = "q_auto,f_auto,w_200,c_fill"

var eagerAsyncFalse = false

type clientImpl struct {
	cloudName string
	uploader  *uploader.API
}

// UploadImage uploads an image with an eager thumbnail.
func (c *clientImpl) UploadImage(ctx context.Context, file io.Reader, folder, publicID string) (url, thumbnailURL string, err error) {
	overwrite := true
	result, err := c.uploader.Upload(ctx, file, uploader.UploadParams{
		Folder:     folder,
		PublicID:   publicID,
		Overwrite:  &overwrite,
		Eager:      imageEager,
		EagerAsync: &eagerAsyncFalse,
	})
	if err != nil {
		return "", "", err
	}
	if result.Error.Message != "" {
		return "", "", errors.New(result.Error.Message)
	}
	url = result.SecureURL
	if len(result.Eager) > 0 {
		thumbnailURL = result.Eager[0].SecureURL
	}
	if thumbnailURL == "" {
		thumbnailURL = BuildOptimizedImageURL(c.cloudName, result.PublicID, ThumbWidth)
	}
	return url, thumbnailURL, nil
}

// DeleteByURL destroys the asset behind a delivery URL.
func (c *clientImpl) DeleteByURL(ctx context.Context, url string) error {
	id, err := PublicIDFromURL(url)
	if err != nil {
		return err
	}
	res, err := c.uploader.Destroy(ctx, uploader.DestroyParams{PublicID: id})
	if err != nil {
		return err
	}
	if res.Error.Message != "" {
		return errors.New(res.Error.Message)
	}
	return nil
}

// NewClientFromParams builds a Client from Cloudinary cloud name, API key, and secret.
func NewClientFromParams(cloudName, apiKey, apiSecret string) (Client, error) {
	cfg, err := config.NewFromParams(cloudName, apiKey, apiSecret)
	if err != nil {
		return nil, err
	}
	up, err := uploader.NewWithConfiguration(cfg)
	if err != nil {
		return nil, err
	}
	return &clientImpl{
		cloudName: cloudName,
		uploader:  up,
	}, nil
}
