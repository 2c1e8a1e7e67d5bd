// Package objectstore implements C1: fetching partitioned Parquet datasets
// from an S3-compatible object store, with column projection, a
// streaming/in-memory switchover governed by object size, and a retry
// ceiling that turns exhausted retries into a classified Transient error
// (spec.md §4.1).
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/apache/arrow/go/v15/arrow"
	"github.com/apache/arrow/go/v15/arrow/memory"
	"github.com/apache/arrow/go/v15/parquet/file"
	"github.com/apache/arrow/go/v15/parquet/pqarrow"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	smithy "github.com/aws/smithy-go"
	"github.com/cenkalti/backoff/v4"

	"github.com/costmonitor/ocp-cloud-aggregator/internal/ocperrors"
)

// DatasetKind distinguishes the three datasets the engine reads.
type DatasetKind string

const (
	DatasetPod     DatasetKind = "pod"
	DatasetStorage DatasetKind = "storage"
	DatasetCloud   DatasetKind = "cloud"
)

// Partition narrows a dataset read to a single hive-style partition
// (cluster/year/month/day), matching the query_optimizer partition-pruning
// pattern this package is grounded on.
type Partition struct {
	ClusterID string
	Year      int
	Month     int
	Day       int
}

// Key renders the partition as the hive-partitioned object key prefix.
func (p Partition) Key(datasetPrefix string) string {
	return fmt.Sprintf("%s/cluster_id=%s/year=%04d/month=%02d/day=%02d/",
		datasetPrefix, p.ClusterID, p.Year, p.Month, p.Day)
}

// S3API is the subset of the S3 client this package depends on, narrowed
// for testability.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Reader fetches and decodes Parquet objects for one bucket.
type Reader struct {
	Client                  S3API
	Bucket                  string
	StreamingThresholdBytes int64
	RetryMaxElapsed         time.Duration
	RetryInitialInterval    time.Duration

	// ForceStreaming, ChunkRows and InMemoryRowLimit implement mode.streaming
	// / mode.chunk_rows / mode.in_memory_row_limit (spec.md §5): the byte-size
	// switchover above decides per-object buffering, this trio decides
	// whether a chunkable dataset (pod aggregation only) is read in
	// row-group batches instead of as one table.
	ForceStreaming   bool
	ChunkRows        int64
	InMemoryRowLimit int64
}

// NewReader constructs a Reader with the teacher's retry defaults
// (exponential backoff with a hard elapsed-time ceiling, spec.md §4.1
// "Retries").
func NewReader(client S3API, bucket string, streamingThresholdBytes int64, maxElapsed, initialInterval time.Duration) *Reader {
	return &Reader{
		Client:                  client,
		Bucket:                  bucket,
		StreamingThresholdBytes: streamingThresholdBytes,
		RetryMaxElapsed:         maxElapsed,
		RetryInitialInterval:    initialInterval,
	}
}

// ShouldStream decides whether a file with numRows rows should be read via
// ReadProjectedChunks rather than ReadProjectedTable: mode.streaming forces
// it unconditionally, otherwise it kicks in once the file's row count
// crosses mode.in_memory_row_limit (spec.md §5 "Selection is by input_rows
// > threshold OR explicit configuration").
func (r *Reader) ShouldStream(numRows int64) bool {
	return r.ForceStreaming || (r.InMemoryRowLimit > 0 && numRows > r.InMemoryRowLimit)
}

// TotalRows sums row counts across every row group pf holds, the row-count
// signal ShouldStream acts on.
func TotalRows(pf *file.Reader) int64 {
	var total int64
	for i := 0; i < pf.NumRowGroups(); i++ {
		total += pf.RowGroup(i).NumRows()
	}
	return total
}

// ListPartitionObjects enumerates every object under a partition prefix,
// retrying transient S3 errors.
func (r *Reader) ListPartitionObjects(ctx context.Context, datasetPrefix string, p Partition) ([]string, error) {
	prefix := p.Key(datasetPrefix)
	var keys []string

	op := func() error {
		var token *string
		for {
			out, err := r.Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
				Bucket:            aws.String(r.Bucket),
				Prefix:            aws.String(prefix),
				ContinuationToken: token,
			})
			if err != nil {
				return classifyAndWrap(err, "list_objects")
			}
			for _, obj := range out.Contents {
				keys = append(keys, aws.ToString(obj.Key))
			}
			if out.IsTruncated == nil || !*out.IsTruncated {
				return nil
			}
			token = out.NextContinuationToken
		}
	}

	if err := r.retry(ctx, op); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, ocperrors.New(ocperrors.KindCorrupt, "objectstore", fmt.Errorf("no objects found under partition %s", prefix))
	}
	return keys, nil
}

// FetchObjectSize returns the object's content length, used to decide
// between the streaming and in-memory read paths (spec.md §4.1 "Streaming
// switchover").
func (r *Reader) FetchObjectSize(ctx context.Context, key string) (int64, error) {
	var size int64
	op := func() error {
		out, err := r.Client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(r.Bucket), Key: aws.String(key)})
		if err != nil {
			return classifyAndWrap(err, "head_object")
		}
		if out.ContentLength != nil {
			size = *out.ContentLength
		}
		return nil
	}
	if err := r.retry(ctx, op); err != nil {
		return 0, err
	}
	return size, nil
}

// OpenObject fetches key and returns a seekable reader over its bytes.
// Objects at or above StreamingThresholdBytes stream via a temp-backed
// reader; smaller objects are buffered in memory (spec.md §4.1).
func (r *Reader) OpenObject(ctx context.Context, key string) (readerAtCloser, error) {
	size, err := r.FetchObjectSize(ctx, key)
	if err != nil {
		return nil, err
	}

	var body io.ReadCloser
	op := func() error {
		out, err := r.Client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(r.Bucket), Key: aws.String(key)})
		if err != nil {
			return classifyAndWrap(err, "get_object")
		}
		body = out.Body
		return nil
	}
	if err := r.retry(ctx, op); err != nil {
		return nil, err
	}

	if size >= r.StreamingThresholdBytes {
		return newStreamingReader(body)
	}
	buf, err := io.ReadAll(body)
	body.Close()
	if err != nil {
		return nil, ocperrors.Transient("objectstore", fmt.Errorf("buffering object %s: %w", key, err))
	}
	return newMemReader(buf), nil
}

// readerAtCloser is what the Arrow Parquet file reader needs: ReadAt plus
// the total size, plus a Close to release the underlying resource.
type readerAtCloser interface {
	io.ReaderAt
	io.Closer
	Size() int64
}

// retry wraps op in the teacher's exponential-backoff-with-ceiling
// pattern: permanent errors (Corrupt/Configuration/InvariantViolation) stop
// immediately; everything else retries until RetryMaxElapsed, after which
// the error surfaces as Transient (spec.md §4.1, §6, cost-agent sender
// pattern).
func (r *Reader) retry(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.RetryInitialInterval
	bo.MaxElapsedTime = r.RetryMaxElapsed
	bctx := backoff.WithContext(bo, ctx)

	err := backoff.Retry(op, bctx)
	if err == nil {
		return nil
	}
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Err
	}
	var oerr *ocperrors.Error
	if errors.As(err, &oerr) {
		return ocperrors.Transient("objectstore", oerr)
	}
	return ocperrors.Transient("objectstore", err)
}

// classifyAndWrap maps an AWS SDK error to the engine's error kinds: a
// missing key/bucket, or AccessDenied, is a permanent Corrupt (the partition
// manifest promised data that can't be read), everything else retries as
// transient.
func classifyAndWrap(err error, op string) error {
	var notFound interface{ ErrorCode() string }
	if errors.As(err, &notFound) {
		switch notFound.ErrorCode() {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return backoff.Permanent(ocperrors.Corrupt("objectstore", fmt.Errorf("%s: %w", op, err)))
		}
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NoSuchBucket", "NotFound", "AccessDenied":
			return backoff.Permanent(ocperrors.Corrupt("objectstore", fmt.Errorf("%s: %w", op, err)))
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// OpenParquet opens a Parquet file reader over src, ready for
// row-group-by-row-group streaming (spec.md §4.1 "Column projection").
func OpenParquet(src readerAtCloser) (*pqarrow.FileReader, *file.Reader, error) {
	pf, err := file.NewParquetReader(src)
	if err != nil {
		return nil, nil, ocperrors.Corrupt("objectstore", fmt.Errorf("opening parquet file: %w", err))
	}
	fr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	if err != nil {
		return nil, nil, ocperrors.Corrupt("objectstore", fmt.Errorf("building arrow reader: %w", err))
	}
	return fr, pf, nil
}

// ResolveColumnIndices maps the requested column names to the schema
// field indices pqarrow.FileReader.ReadRowGroups expects, dropping any
// name not present rather than failing the whole read (spec.md §4.1
// "Column projection tolerates schema drift").
func ResolveColumnIndices(fr *pqarrow.FileReader, columns []string) ([]int, error) {
	schema, err := fr.Schema()
	if err != nil {
		return nil, ocperrors.Corrupt("objectstore", fmt.Errorf("reading arrow schema: %w", err))
	}
	want := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		want[c] = struct{}{}
	}
	var indices []int
	for i, f := range schema.Fields() {
		if _, ok := want[f.Name]; ok {
			indices = append(indices, i)
		}
	}
	return indices, nil
}

// ReadProjectedTable reads fr restricted to columns, falling back to every
// column when columns resolves to no known names (an empty projection
// list, or a dataset whose schema drifted entirely) so a read never comes
// back empty by surprise.
func ReadProjectedTable(ctx context.Context, fr *pqarrow.FileReader, columns []string) (arrow.Table, error) {
	indices, err := ResolveColumnIndices(fr, columns)
	if err != nil {
		return nil, err
	}
	if len(indices) == 0 {
		return fr.ReadTable(ctx)
	}
	table, err := fr.ReadRowGroups(ctx, indices, nil)
	if err != nil {
		return nil, ocperrors.Corrupt("objectstore", fmt.Errorf("reading projected row groups: %w", err))
	}
	return table, nil
}

// ReadProjectedChunks is the streaming counterpart to ReadProjectedTable
// (spec.md §5 "Streaming mode", mode.chunk_rows): it batches a file's row
// groups so each call to fn sees roughly chunkRows rows, never the whole
// file, and releases every chunk's table before moving to the next. Only
// the container-only pod-aggregation path uses this; the cloud side is
// always read in full via ReadProjectedTable because C12's matching step
// needs the entire cloud relation in memory.
func ReadProjectedChunks(ctx context.Context, fr *pqarrow.FileReader, pf *file.Reader, columns []string, chunkRows int64, fn func(arrow.Table) error) error {
	indices, err := ResolveColumnIndices(fr, columns)
	if err != nil {
		return err
	}

	numGroups := pf.NumRowGroups()
	if numGroups == 0 {
		return nil
	}
	if chunkRows <= 0 {
		chunkRows = 1
	}

	var batch []int
	var batchRows int64
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		var table arrow.Table
		var err error
		if len(indices) == 0 {
			table, err = fr.ReadRowGroups(ctx, nil, batch)
		} else {
			table, err = fr.ReadRowGroups(ctx, indices, batch)
		}
		if err != nil {
			return ocperrors.Corrupt("objectstore", fmt.Errorf("reading row-group chunk: %w", err))
		}
		defer table.Release()
		return fn(table)
	}

	for i := 0; i < numGroups; i++ {
		rows := pf.RowGroup(i).NumRows()
		if len(batch) > 0 && batchRows+rows > chunkRows {
			if err := flush(); err != nil {
				return err
			}
			batch, batchRows = nil, 0
		}
		batch = append(batch, i)
		batchRows += rows
	}
	return flush()
}
