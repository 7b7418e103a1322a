// Package reliability keeps optimizer output and local databases safe: results are archived
// to S3-compatible object storage and databases get periodic maintenance.
package reliability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/aristath/quantfolio/internal/modules/optimization"
)

// ErrForeignKey is returned for keys that were not written by the archive
var ErrForeignKey = errors.New("key is not an archived result")

// ArchiveOptions configures the S3-compatible bucket results are written to
type ArchiveOptions struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string // Custom endpoint (R2, MinIO); empty uses AWS
	AccessKeyID     string
	SecretAccessKey string
}

// ArchivedRun describes one archived result object
type ArchivedRun struct {
	Key          string              `json:"key"`
	Method       optimization.Method `json:"method"`
	RunID        string              `json:"run_id"`
	SizeBytes    int64               `json:"size_bytes"`
	LastModified time.Time           `json:"last_modified"`
}

// archiveEnvelope is the JSON document written for each run
type archiveEnvelope struct {
	RunID      string              `json:"run_id"`
	Method     optimization.Method `json:"method"`
	ArchivedAt time.Time           `json:"archived_at"`
	Result     interface{}         `json:"result"`
}

// ResultArchive uploads finished optimization results as JSON objects.
// It implements optimization.ResultArchiver.
type ResultArchive struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
	now      func() time.Time
	log      zerolog.Logger
}

// NewResultArchive creates an archive client for the configured bucket
func NewResultArchive(ctx context.Context, opts ArchiveOptions, log zerolog.Logger) (*ResultArchive, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load S3 config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
		// R2 and MinIO reject the newer default integrity checksums
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})

	return &ResultArchive{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   opts.Bucket,
		prefix:   strings.Trim(opts.Prefix, "/"),
		now:      time.Now,
		log:      log.With().Str("service", "result_archive").Logger(),
	}, nil
}

// Archive writes result under <prefix>/<method>/<yyyy>/<mm>/<dd>/<runID>.json
func (a *ResultArchive) Archive(ctx context.Context, method optimization.Method, runID string, result interface{}) error {
	archivedAt := a.now().UTC()
	body, err := json.Marshal(archiveEnvelope{
		RunID:      runID,
		Method:     method,
		ArchivedAt: archivedAt,
		Result:     result,
	})
	if err != nil {
		return fmt.Errorf("failed to encode result %s: %w", runID, err)
	}

	key := a.objectKey(method, runID, archivedAt)
	_, err = a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload result %s: %w", runID, err)
	}

	a.log.Debug().
		Str("key", key).
		Int("size_bytes", len(body)).
		Msg("Archived optimization result")

	return nil
}

// List returns archived runs, newest first. An empty method lists every method.
func (a *ResultArchive) List(ctx context.Context, method optimization.Method, limit int) ([]ArchivedRun, error) {
	prefix := a.prefix
	if method != "" {
		prefix = path.Join(prefix, string(method))
	}
	if prefix != "" {
		prefix += "/"
	}

	var runs []ArchivedRun
	paginator := s3.NewListObjectsV2Paginator(a.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list archived results: %w", err)
		}
		for _, obj := range page.Contents {
			run, ok := a.parseKey(aws.ToString(obj.Key))
			if !ok {
				continue
			}
			run.SizeBytes = aws.ToInt64(obj.Size)
			run.LastModified = aws.ToTime(obj.LastModified)
			runs = append(runs, run)
		}
	}

	sort.SliceStable(runs, func(i, j int) bool {
		if !runs[i].LastModified.Equal(runs[j].LastModified) {
			return runs[i].LastModified.After(runs[j].LastModified)
		}
		return runs[i].Key > runs[j].Key
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// Owns reports whether key names a result document under the archive prefix
func (a *ResultArchive) Owns(key string) bool {
	if a.prefix != "" && !strings.HasPrefix(key, a.prefix+"/") {
		return false
	}
	_, ok := a.parseKey(key)
	return ok
}

// Fetch returns the raw JSON document stored under key
func (a *ResultArchive) Fetch(ctx context.Context, key string) ([]byte, error) {
	if !a.Owns(key) {
		return nil, fmt.Errorf("%w: %s", ErrForeignKey, key)
	}
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch archived result %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read archived result %s: %w", key, err)
	}
	return data, nil
}

func (a *ResultArchive) objectKey(method optimization.Method, runID string, at time.Time) string {
	return path.Join(a.prefix, string(method), at.Format("2006/01/02"), runID+".json")
}

// parseKey recovers method and run ID from an object key
func (a *ResultArchive) parseKey(key string) (ArchivedRun, bool) {
	rest := strings.TrimPrefix(key, a.prefix)
	rest = strings.TrimPrefix(rest, "/")

	// <method>/<yyyy>/<mm>/<dd>/<runID>.json
	parts := strings.Split(rest, "/")
	if len(parts) != 5 || !strings.HasSuffix(parts[4], ".json") {
		return ArchivedRun{}, false
	}
	return ArchivedRun{
		Key:    key,
		Method: optimization.Method(parts[0]),
		RunID:  strings.TrimSuffix(parts[4], ".json"),
	}, true
}
