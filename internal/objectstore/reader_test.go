package objectstore

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	smithy "github.com/aws/smithy-go"
	"github.com/costmonitor/ocp-cloud-aggregator/internal/ocperrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	headErr    error
	headCalls  int
	listResult *s3.ListObjectsV2Output
	listErr    error
	transientUntil int
	getCalls   int
}

func (f *fakeS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.getCalls++
	if f.getCalls <= f.transientUntil {
		return nil, errors.New("connection reset")
	}
	return &s3.GetObjectOutput{Body: io_NopCloser()}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.listResult, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.headCalls++
	if f.headErr != nil {
		return nil, f.headErr
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(10)}, nil
}

type notFoundErr struct{}

func (notFoundErr) Error() string   { return "not found" }
func (notFoundErr) ErrorCode() string { return "NoSuchKey" }
func (notFoundErr) ErrorMessage() string { return "not found" }
func (notFoundErr) ErrorFault() smithy.ErrorFault { return smithy.FaultUnknown }

func io_NopCloser() *nopCloser { return &nopCloser{} }

type nopCloser struct{}

func (n *nopCloser) Read(p []byte) (int, error) { return 0, io.EOF }
func (n *nopCloser) Close() error                { return nil }

func TestMissingObjectClassifiedAsCorrupt(t *testing.T) {
	client := &fakeS3{headErr: notFoundErr{}}
	r := NewReader(client, "bucket", 1024, 2*time.Second, 10*time.Millisecond)
	_, err := r.FetchObjectSize(context.Background(), "missing/key")
	require.Error(t, err)
	var oerr *ocperrors.Error
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, ocperrors.KindCorrupt, oerr.Kind)
}

func TestEmptyPartitionListClassifiedAsCorrupt(t *testing.T) {
	client := &fakeS3{listResult: &s3.ListObjectsV2Output{}}
	r := NewReader(client, "bucket", 1024, 2*time.Second, 10*time.Millisecond)
	_, err := r.ListPartitionObjects(context.Background(), "pod", Partition{ClusterID: "c1", Year: 2026, Month: 1, Day: 1})
	require.Error(t, err)
	var oerr *ocperrors.Error
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, ocperrors.KindCorrupt, oerr.Kind)
}

func TestTransientErrorRetriesThenSucceeds(t *testing.T) {
	client := &fakeS3{transientUntil: 2}
	r := NewReader(client, "bucket", 1024*1024, 2*time.Second, 5*time.Millisecond)
	_, err := r.OpenObject(context.Background(), "some/key")
	require.NoError(t, err)
	assert.Equal(t, 3, client.getCalls)
}

func TestPartitionKeyFormat(t *testing.T) {
	p := Partition{ClusterID: "c1", Year: 2026, Month: 2, Day: 3}
	assert.Equal(t, "pod/cluster_id=c1/year=2026/month=02/day=03/", p.Key("pod"))
}

func TestShouldStreamRespectsForceAndRowLimit(t *testing.T) {
	forced := &Reader{ForceStreaming: true, InMemoryRowLimit: 1_000_000}
	assert.True(t, forced.ShouldStream(10))

	byLimit := &Reader{InMemoryRowLimit: 1000}
	assert.False(t, byLimit.ShouldStream(999))
	assert.True(t, byLimit.ShouldStream(1001))

	noLimit := &Reader{}
	assert.False(t, noLimit.ShouldStream(1_000_000_000))
}
