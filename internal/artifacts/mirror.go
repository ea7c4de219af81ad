// Package artifacts mirrors finished images to S3-compatible object storage.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"imaged/internal/queue"
	"imaged/pkg/types"
)

var uploadsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "imaged",
		Subsystem: "artifacts",
		Name:      "uploads_total",
		Help:      "Image uploads to object storage, by result",
	},
	[]string{"result"},
)

func init() {
	prometheus.MustRegister(uploadsTotal)
}

// Uploader is the object storage call the mirror needs; *minio.Client
// implements it.
type Uploader interface {
	FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// ImageLookup resolves an image id to its record.
type ImageLookup interface {
	Get(ctx context.Context, id int64) (types.Image, error)
}

// Config selects the target bucket.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
}

// Mirror uploads every image reported ready. Uploads run on the Run
// goroutine so the caller never waits on the network.
type Mirror struct {
	client Uploader
	images ImageLookup
	bucket string
	prefix string
	log    zerolog.Logger
	q      *queue.Unbounded[int64]
}

// Connect creates a minio client for cfg and makes sure the bucket exists.
func Connect(ctx context.Context, cfg Config, images ImageLookup, log zerolog.Logger) (*Mirror, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("minio endpoint is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
		log.Info().Str("bucket", cfg.Bucket).Msg("bucket created")
	}
	return New(client, images, cfg.Bucket, cfg.Prefix, log), nil
}

func New(client Uploader, images ImageLookup, bucket, prefix string, log zerolog.Logger) *Mirror {
	return &Mirror{
		client: client,
		images: images,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		log:    log.With().Str("component", "artifacts").Logger(),
		q:      queue.New[int64](),
	}
}

// ImageReady queues the image for upload.
func (m *Mirror) ImageReady(_ context.Context, imageID int64) {
	m.q.Push(imageID)
}

// Run uploads queued images until ctx is done or Close was called and the
// queue is drained.
func (m *Mirror) Run(ctx context.Context) {
	for {
		id, err := m.q.Pop(ctx)
		if err != nil {
			return
		}
		if err := m.upload(ctx, id); err != nil {
			uploadsTotal.WithLabelValues("error").Inc()
			m.log.Error().Err(err).Int64("image_id", id).Msg("upload failed")
			continue
		}
		uploadsTotal.WithLabelValues("ok").Inc()
	}
}

// Close stops accepting images; Run returns once the backlog is uploaded.
func (m *Mirror) Close() { m.q.Close() }

func (m *Mirror) upload(ctx context.Context, id int64) error {
	img, err := m.images.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("load image: %w", err)
	}
	object := ObjectName(m.prefix, img)
	info, err := m.client.FPutObject(ctx, m.bucket, object, img.FilePath, minio.PutObjectOptions{ContentType: ContentType(img.FileType)})
	if err != nil {
		return fmt.Errorf("put %s: %w", object, err)
	}
	m.log.Debug().Int64("image_id", id).Str("object", object).Int64("size", info.Size).Msg("image uploaded")
	return nil
}

// ObjectName is <prefix>/generator-<id>/job-<id>/<file name>.
func ObjectName(prefix string, img types.Image) string {
	return path.Join(prefix,
		fmt.Sprintf("generator-%d", img.GeneratorID),
		fmt.Sprintf("job-%d", img.JobID),
		filepath.Base(img.FilePath))
}

func ContentType(ft types.FileImageType) string {
	switch ft {
	case types.FileJPG:
		return "image/jpeg"
	case types.FileWEBP:
		return "image/webp"
	default:
		return "image/png"
	}
}
