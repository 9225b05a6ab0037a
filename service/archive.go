package service

import (
	"context"
	"fmt"
	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"
	"path"
	"path/filepath"
	"recording-orchestrator/entities"
)

// ObjectUploader is the subset of the object-storage client used for archiving.
type ObjectUploader interface {
	FPutObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

type objectArchiver struct {
	client ObjectUploader
	bucket string
}

// NewObjectArchiver copies ingested recordings to bucket under <room>/<room sid>/.
func NewObjectArchiver(client ObjectUploader, bucket string) Archiver {
	return &objectArchiver{client: client, bucket: bucket}
}

func (a *objectArchiver) Archive(ctx context.Context, conference entities.ConferenceSession, paths []string) error {
	prefix := archivePrefix(conference)
	for _, p := range paths {
		objectName := path.Join(prefix, filepath.Base(p))
		_, err := a.client.FPutObject(ctx, a.bucket, objectName, p, minio.PutObjectOptions{
			ContentType: "video/mp4",
			UserMetadata: map[string]string{
				"room-id":  conference.RoomId,
				"room-sid": conference.RoomSid,
			},
		})
		if err != nil {
			return fmt.Errorf("archive %s: %w", objectName, err)
		}
		zerolog.Ctx(ctx).Debug().Str("object", objectName).Msg("recording archived")
	}
	return nil
}

func archivePrefix(conference entities.ConferenceSession) string {
	room := conference.RoomId
	if room == "" {
		room = "unknown"
	}
	sid := conference.RoomSid
	if sid == "" {
		sid = conference.Started.UTC().Format("20060102T150405")
	}
	return path.Join(room, sid)
}
