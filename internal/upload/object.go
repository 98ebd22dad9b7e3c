package upload

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/REM-Infotech/crawjud-ui/internal/logger"
)

// ObjectOptions locates the S3-compatible bucket uploads are written to.
type ObjectOptions struct {
	Endpoint  string
	Port      int
	UseSSL    bool
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
}

// ObjectUploader puts each file at <seed>/<name> in an S3-compatible bucket.
type ObjectUploader struct {
	client   *minio.Client
	bucket   string
	Progress Progress
	Notifier Notifier
	Logger   *slog.Logger
}

func NewObjectUploader(opts ObjectOptions) (*ObjectUploader, error) {
	if opts.Endpoint == "" || opts.Bucket == "" {
		return nil, fmt.Errorf("object storage endpoint and bucket are required")
	}
	endpoint := opts.Endpoint
	if opts.Port != 0 {
		endpoint = net.JoinHostPort(opts.Endpoint, strconv.Itoa(opts.Port))
	}
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("create object storage client: %w", err)
	}
	return &ObjectUploader{client: client, bucket: opts.Bucket}, nil
}

// ObjectKey is the storage key of a file within a batch.
func ObjectKey(seed, name string) string {
	return seed + "/" + SanitizeName(name)
}

func (o *ObjectUploader) UploadFiles(ctx context.Context, files []FileSource, seed string) (*Result, error) {
	if seed == "" {
		seed = NewSeed()
	}
	progress := o.Progress
	if progress == nil {
		progress = nopProgress{}
	}
	log := logger.Or(o.Logger)
	bar := &progressBar{out: progress}

	var total int64
	for _, f := range files {
		total += f.Size
	}

	res := &Result{Seed: seed}
	for _, f := range files {
		key := ObjectKey(seed, f.Name)
		_, err := o.client.PutObject(ctx, o.bucket, key, io.NewSectionReader(f.Reader, 0, f.Size), f.Size,
			minio.PutObjectOptions{ContentType: f.Type})
		if err != nil {
			bar.reset()
			return nil, fmt.Errorf("put %s: %w", key, err)
		}
		res.Files = append(res.Files, SanitizeName(f.Name))
		res.Bytes += f.Size
		bar.animateTo(ctx, percent(res.Bytes, total))
		log.Debug("object stored", "bucket", o.bucket, "key", key)
	}
	if o.Notifier != nil {
		o.Notifier.Notify("Sucesso", "Arquivos enviados com sucesso!")
	}
	bar.reset()
	return res, nil
}
