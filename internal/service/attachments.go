package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kursadbilgin/notification-dispatch/internal/blob"
	"github.com/kursadbilgin/notification-dispatch/internal/domain"
)

// AttachmentOffloader moves notification bodies to the blob store and back.
type AttachmentOffloader struct {
	blobs  blob.Store
	logger *zap.Logger
	newID  func() string
}

func NewAttachmentOffloader(blobs blob.Store, logger *zap.Logger) (*AttachmentOffloader, error) {
	if blobs == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AttachmentOffloader{blobs: blobs, logger: logger, newID: uuid.NewString}, nil
}

// BlobName returns the blob a notification body is stored under. Every upload
// gets its own version so an existing body is never overwritten.
func BlobName(application string, notificationID string, version string) string {
	return application + "/" + notificationID + "/" + version
}

// Offload uploads the inline body, records the blob name and clears the body.
// It returns the uploaded blob name, or "" when there was nothing to upload.
func (o *AttachmentOffloader) Offload(ctx context.Context, application string, record *domain.NotificationRecord) (string, error) {
	if record.Body == nil || *record.Body == "" {
		return "", nil
	}

	name := BlobName(application, record.NotificationID, o.newID())
	if _, err := o.blobs.Upload(ctx, name, *record.Body); err != nil {
		return "", fmt.Errorf("failed to offload body of notification %q: %w", record.NotificationID, err)
	}
	record.BodyBlobName = name
	record.Body = nil
	return name, nil
}

// Discard deletes uploaded blobs whose records were never stored. Failures are
// logged only.
func (o *AttachmentOffloader) Discard(ctx context.Context, names []string) {
	for _, name := range names {
		if _, err := o.blobs.Delete(ctx, name); err != nil {
			o.logger.Warn("failed to delete orphaned body blob", zap.String("blob", name), zap.Error(err))
		}
	}
}

// Rehydrate loads an offloaded body back into the record. A missing blob leaves
// the body empty.
func (o *AttachmentOffloader) Rehydrate(ctx context.Context, record *domain.NotificationRecord) error {
	if record.BodyBlobName == "" || record.Body != nil {
		return nil
	}

	content, err := o.blobs.Download(ctx, record.BodyBlobName)
	if err != nil {
		return fmt.Errorf("failed to load body of notification %q: %w", record.NotificationID, err)
	}
	if content == nil {
		o.logger.Warn("notification body blob is missing",
			zap.String("notificationId", record.NotificationID),
			zap.String("blob", record.BodyBlobName),
		)
		return nil
	}
	record.Body = content
	return nil
}
