package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"chat_server/server/gateway/domain"
)

type FileRepository struct {
	pool *pgxpool.Pool
}

func NewFileRepository(pool *pgxpool.Pool) *FileRepository {
	return &FileRepository{pool: pool}
}

func (r *FileRepository) CreateFile(ctx context.Context, item domain.FileObject) (domain.FileObject, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO files(owner_id, file_name, object_key, thumbnail_key, content_type, size_bytes)
		VALUES($1, $2, $3, $4, $5, $6)
		RETURNING file_id::text, created_at
	`, item.OwnerID, item.FileName, item.ObjectKey, item.ThumbnailKey, item.ContentType, item.SizeBytes).Scan(&item.FileID, &item.CreatedAt)
	return item, err
}

func (r *FileRepository) GetFile(ctx context.Context, fileID string) (domain.FileObject, error) {
	var item domain.FileObject
	err := r.pool.QueryRow(ctx, `
		SELECT file_id::text, owner_id, file_name, object_key, thumbnail_key, content_type, size_bytes, created_at
		FROM files
		WHERE file_id=$1::uuid
	`, fileID).Scan(&item.FileID, &item.OwnerID, &item.FileName, &item.ObjectKey, &item.ThumbnailKey, &item.ContentType, &item.SizeBytes, &item.CreatedAt)
	return item, err
}
