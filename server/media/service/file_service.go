package service

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/minio/minio-go/v7"

	"chat_server/server/gateway/domain"
)

const presignExpiry = 15 * time.Minute

type fileStore interface {
	CreateFile(ctx context.Context, item domain.FileObject) (domain.FileObject, error)
	GetFile(ctx context.Context, fileID string) (domain.FileObject, error)
}

// FileService handles media attachments for kind=media messages:
// presigned upload/download URLs plus registration with an automatic
// thumbnail for images.
type FileService struct {
	store  fileStore
	object *minio.Client
	bucket string
}

func NewFileService(store fileStore, object *minio.Client, bucket string) *FileService {
	return &FileService{store: store, object: object, bucket: bucket}
}

func (s *FileService) PresignUpload(ctx context.Context, objectKey string) (string, error) {
	u, err := s.object.PresignedPutObject(ctx, s.bucket, cleanObjectKey(objectKey), presignExpiry)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func (s *FileService) PresignDownload(ctx context.Context, fileID string) (string, error) {
	item, err := s.store.GetFile(ctx, fileID)
	if err != nil {
		return "", err
	}
	u, err := s.object.PresignedGetObject(ctx, s.bucket, item.ObjectKey, presignExpiry, url.Values{})
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func (s *FileService) RegisterAndMaybeThumbnail(ctx context.Context, item domain.FileObject) (domain.FileObject, error) {
	item.ObjectKey = cleanObjectKey(item.ObjectKey)
	if strings.HasPrefix(item.ContentType, "image/") {
		thumbKey, err := s.makeThumbnail(ctx, item.ObjectKey)
		if err == nil {
			item.ThumbnailKey = thumbKey
		}
	}
	return s.store.CreateFile(ctx, item)
}

func (s *FileService) makeThumbnail(ctx context.Context, objectKey string) (string, error) {
	obj, err := s.object.GetObject(ctx, s.bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return "", err
	}
	defer obj.Close()

	img, _, err := image.Decode(obj)
	if err != nil {
		return "", err
	}

	thumb := imaging.Thumbnail(img, 320, 320, imaging.Lanczos)
	buf := bytes.NewBuffer(nil)
	if err := imaging.Encode(buf, thumb, imaging.JPEG); err != nil {
		return "", err
	}

	ext := filepath.Ext(objectKey)
	thumbKey := strings.TrimSuffix(objectKey, ext) + "_thumb.jpg"
	reader := bytes.NewReader(buf.Bytes())
	_, err = s.object.PutObject(ctx, s.bucket, thumbKey, reader, int64(reader.Len()), minio.PutObjectOptions{ContentType: "image/jpeg"})
	if err != nil {
		return "", fmt.Errorf("upload thumb: %w", err)
	}
	return thumbKey, nil
}

func cleanObjectKey(objectKey string) string {
	return strings.TrimPrefix(strings.TrimSpace(objectKey), "/")
}
