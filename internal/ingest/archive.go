package ingest

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"leadflow_backend/internal/events"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"
)

// Archiver persists every accepted raw payload. Primary storage is MinIO;
// when the client is unavailable or a put fails, the payload lands in
// Postgres instead, so no submission is ever lost.
type Archiver struct {
	client *minio.Client
	bucket string
	repo   *Repository
	log    *logger.Logger
}

func NewArchiver(cfg config.ArchiveConfig, repo *Repository, log *logger.Logger) (*Archiver, error) {
	a := &Archiver{
		bucket: cfg.GetMinIOBucketRawPayloads(),
		repo:   repo,
		log:    log,
	}

	if !cfg.IsArchiveEnabled() {
		log.Info("minio archive disabled, raw payloads go to postgres")
		return a, nil
	}

	client, err := minio.New(cfg.GetMinIOEndpoint(), &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.GetMinIOAccessKey(), cfg.GetMinIOSecretKey(), ""),
		Secure: cfg.GetMinIOUseSSL(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}
	a.client = client
	return a, nil
}

// EnsureBucket creates the archive bucket when missing. Called at startup.
func (a *Archiver) EnsureBucket(ctx context.Context) error {
	if a.client == nil {
		return nil
	}
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", a.bucket, err)
		}
	}
	return nil
}

func (a *Archiver) Subscribe(bus events.Bus) {
	bus.Subscribe(events.IngestPayloadReceived{}.EventName(), events.HandlerFunc(a.handlePayloadReceived))
}

func (a *Archiver) handlePayloadReceived(ctx context.Context, event events.Event) error {
	received, ok := event.(events.IngestPayloadReceived)
	if !ok {
		return nil
	}
	a.Archive(ctx, received.TeamID, received.Source, received.SourceRef, received.RawPayload)
	return nil
}

// Archive stores one payload, falling back to Postgres on any MinIO failure.
func (a *Archiver) Archive(ctx context.Context, teamID uuid.UUID, source, sourceRef string, payload []byte) {
	if a.client != nil {
		key := fmt.Sprintf("%s/%s/%s.json",
			teamID, time.Now().UTC().Format("2006/01/02"), uuid.New())
		_, err := a.client.PutObject(ctx, a.bucket, key,
			bytes.NewReader(payload), int64(len(payload)),
			minio.PutObjectOptions{ContentType: "application/json"})
		if err == nil {
			return
		}
		a.log.Warn("minio archive failed, falling back to postgres",
			"teamId", teamID.String(), "error", err)
	}

	if err := a.repo.SaveRawPayload(ctx, teamID, source, sourceRef, payload); err != nil {
		a.log.Error("raw payload archive failed in both stores",
			"teamId", teamID.String(), "source", source, "sourceRef", sourceRef, "error", err)
	}
}
