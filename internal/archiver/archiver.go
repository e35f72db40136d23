// Package archiver copies verified file transfers into object storage. It
// consumes file_received events from the bus, so the transfer engine stays
// unaware of where files end up.
package archiver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"github.com/palmlab/telemetry-hub/internal/events"
	"github.com/palmlab/telemetry-hub/internal/models"
	"github.com/palmlab/telemetry-hub/pkg/file"
)

// Uploader puts one local file into a bucket.
type Uploader interface {
	Upload(ctx context.Context, bucket, objectName, filePath string) error
}

// MinioUploader implements Uploader against an S3-compatible endpoint.
type MinioUploader struct {
	client *minio.Client
}

// NewMinioUploader connects to the object storage endpoint.
func NewMinioUploader(endpoint, accessKey, secretKey string, useSSL bool) (*MinioUploader, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}

	return &MinioUploader{client: client}, nil
}

// Upload ensures the bucket exists and puts the file.
func (u *MinioUploader) Upload(ctx context.Context, bucket, objectName, filePath string) error {
	exists, err := u.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := u.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
		}
	}

	_, err = u.client.FPutObject(ctx, bucket, objectName, filePath, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	return err
}

// Archiver subscribes to file_received events and uploads each verified,
// complete file. Upload failures are logged and swallowed; the file stays
// on local disk either way.
type Archiver struct {
	bucket        string
	uploadTimeout time.Duration
	uploader      Uploader
	fileClient    file.FileOperations
	bus           *events.Bus
	logger        zerolog.Logger

	subscriber  *events.PooledHandler
	unsubscribe func()
}

// NewArchiver initializes a new Archiver.
func NewArchiver(bucket string, uploader Uploader, fileClient file.FileOperations, bus *events.Bus, logger zerolog.Logger) *Archiver {
	return &Archiver{
		bucket:        bucket,
		uploadTimeout: 5 * time.Minute,
		uploader:      uploader,
		fileClient:    fileClient,
		bus:           bus,
		logger:        logger,
	}
}

// Start subscribes the archiver to file_received events.
func (a *Archiver) Start() error {
	if a.subscriber != nil {
		a.logger.Warn().Msg("Archiver is already running")
		return errors.New("archiver is already running")
	}

	a.subscriber = events.NewPooledHandler("archiver", a.handle)
	a.unsubscribe = a.bus.Subscribe(models.EventFileReceived, a.subscriber)

	a.logger.Info().Str("bucket", a.bucket).Msg("Archiver started")
	return nil
}

// Stop unsubscribes and drains pending uploads.
func (a *Archiver) Stop() error {
	if a.subscriber == nil {
		a.logger.Warn().Msg("Archiver is not running")
		return errors.New("archiver is not running")
	}

	a.unsubscribe()
	a.subscriber.Shutdown()
	a.subscriber = nil
	a.unsubscribe = nil

	a.logger.Info().Msg("Archiver stopped")
	return nil
}

func (a *Archiver) handle(event models.DeviceEvent) {
	checksumOK, _ := event.Data["checksum_ok"].(bool)
	complete, _ := event.Data["complete"].(bool)
	if !checksumOK || !complete {
		a.logger.Debug().Str("device_id", event.DeviceID).Msg("Skipping archive of unverified transfer")
		return
	}

	filename, _ := event.Data["filename"].(string)
	path, _ := event.Data["path"].(string)
	if filename == "" || path == "" {
		return
	}

	// Uploads run behind the queue, so the file may have been replaced
	// since receipt. Re-hash it and archive only what was verified.
	if checksum, _ := event.Data["checksum"].(string); checksum != "" {
		hash, err := a.fileClient.GetFileHash(path)
		if err != nil {
			a.logger.Error().Err(err).Str("path", path).Msg("Cannot hash file before archiving")
			return
		}
		if !strings.EqualFold(hash, checksum) {
			a.logger.Warn().Str("path", path).Msg("File changed on disk since receipt, skipping archive")
			return
		}
	}

	objectName := fmt.Sprintf("%s/%s", event.DeviceID, filename)

	ctx, cancel := context.WithTimeout(context.Background(), a.uploadTimeout)
	defer cancel()

	if err := a.uploader.Upload(ctx, a.bucket, objectName, path); err != nil {
		a.logger.Error().Err(err).Str("object", objectName).Msg("Failed to archive file")
		return
	}

	a.logger.Info().Str("object", objectName).Msg("File archived")
}
