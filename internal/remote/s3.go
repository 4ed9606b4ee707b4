package remote

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"cubeo/internal/cubeo"
)

// S3Client is the subset of the S3 API the corpus uses.
type S3Client interface {
	s3.ListObjectsV2APIClient
	manager.DownloadAPIClient
	manager.UploadAPIClient
}

// S3Options configures an S3Corpus.
type S3Options struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	PollInterval    time.Duration
}

// S3Corpus is a remote corpus stored in an S3 bucket as
// <prefix>/<collection>/<id>.json objects. Subscriptions poll the bucket
// listing.
type S3Corpus struct {
	client       S3Client
	bucket       string
	prefix       string
	pollInterval time.Duration
	downloader   *manager.Downloader
	uploader     *manager.Uploader
}

// NewS3Corpus creates an S3 client from the default AWS configuration,
// overridden by opts, and wraps it.
func NewS3Corpus(ctx context.Context, opts S3Options) (*S3Corpus, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 corpus requires a bucket")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS configuration: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3CorpusWithClient(client, opts), nil
}

// NewS3CorpusWithClient wraps an existing client.
func NewS3CorpusWithClient(client S3Client, opts S3Options) *S3Corpus {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &S3Corpus{
		client:       client,
		bucket:       opts.Bucket,
		prefix:       opts.Prefix,
		pollInterval: interval,
		downloader:   manager.NewDownloader(client),
		uploader:     manager.NewUploader(client),
	}
}

// Query returns active documents of a collection created after since.
func (s *S3Corpus) Query(ctx context.Context, c cubeo.Collection, since time.Time) ([]cubeo.Document, error) {
	return queryObjects(ctx, s, c, since)
}

// Subscribe polls the collection listing for changed objects.
func (s *S3Corpus) Subscribe(ctx context.Context, c cubeo.Collection, since time.Time) (<-chan cubeo.ChangeBatch, error) {
	return pollChanges(ctx, s, c, since, s.pollInterval), nil
}

// Publish uploads a document, replacing any previous version.
func (s *S3Corpus) Publish(ctx context.Context, c cubeo.Collection, doc cubeo.Document) error {
	data, err := encodeDocument(doc)
	if err != nil {
		return err
	}
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(c, doc.ID)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("uploading %s/%s: %w", c, doc.ID, err)
	}
	return nil
}

func (s *S3Corpus) collectionPrefix(c cubeo.Collection) string {
	return path.Join(s.prefix, string(c)) + "/"
}

func (s *S3Corpus) key(c cubeo.Collection, id string) string {
	return s.collectionPrefix(c) + objectName(id)
}

func (s *S3Corpus) list(ctx context.Context, c cubeo.Collection) ([]objectInfo, error) {
	prefix := s.collectionPrefix(c)
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	var objs []objectInfo
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", prefix, err)
		}
		for _, o := range page.Contents {
			key := aws.ToString(o.Key)
			id, ok := idFromName(key[len(prefix):])
			if !ok || path.Base(key) != objectName(id) {
				continue
			}
			objs = append(objs, objectInfo{id: id, modified: aws.ToTime(o.LastModified)})
		}
	}
	return objs, nil
}

func (s *S3Corpus) fetch(ctx context.Context, c cubeo.Collection, id string) (cubeo.Document, error) {
	buf := manager.NewWriteAtBuffer(nil)
	_, err := s.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(c, id)),
	})
	if err != nil {
		return cubeo.Document{}, fmt.Errorf("downloading %s/%s: %w", c, id, err)
	}
	return decodeDocument(id, buf.Bytes())
}

var _ Corpus = (*S3Corpus)(nil)
