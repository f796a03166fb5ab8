package archive_test

import (
	"OptionSettle/internal/archive"
	"OptionSettle/internal/testutil"
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// memObjects is an in-memory stand-in for the S3 client.
type memObjects struct {
	objects      map[string][]byte
	contentTypes map[string]string
}

func newMemObjects() *memObjects {
	return &memObjects{objects: map[string][]byte{}, contentTypes: map[string]string{}}
}

func (m *memObjects) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	key := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	m.objects[key] = b
	m.contentTypes[key] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (m *memObjects) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	b, ok := m.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func (m *memObjects) HeadBucket(_ context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, nil
}

func TestPutStatement_RoundTrip(t *testing.T) {
	e := testutil.NewTestEngine(t, nil, nil)
	testutil.MustApplyAll(t, e, testutil.MintScript())
	view, err := e.SeriesInfo(testutil.SeriesID())
	if err != nil {
		t.Fatalf("SeriesInfo: %v", err)
	}

	objects := newMemObjects()
	a := archive.NewS3ArchiverWithClient(objects, "settle", "")
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	st := archive.NewStatement(view, e.GetSequence()-1, e.GetStateHash(), at)

	if err := a.PutStatement(context.Background(), st); err != nil {
		t.Fatalf("PutStatement: %v", err)
	}

	key := "settle/statements/" + testutil.SeriesID().Hex() + ".json"
	if _, ok := objects.objects[key]; !ok {
		t.Fatalf("object %s not written; have %v", key, objects.objects)
	}
	if objects.contentTypes[key] != "application/json" {
		t.Errorf("content type = %q", objects.contentTypes[key])
	}

	got, err := a.GetStatement(context.Background(), testutil.SeriesID())
	if err != nil {
		t.Fatalf("GetStatement: %v", err)
	}
	if got.SeriesID != st.SeriesID || got.Sequence != 4 || got.StateHash != st.StateHash {
		t.Errorf("statement = %+v", got)
	}
	if got.Strike != "2" {
		t.Errorf("strike = %q", got.Strike)
	}
	if got.CollateralReserve.Cmp(testutil.E18(3)) != 0 || got.CollateralReserveDisplay != "3" {
		t.Errorf("collateral reserve = %s (%s)", got.CollateralReserve, got.CollateralReserveDisplay)
	}
	if !got.SettledAt.Equal(at) {
		t.Errorf("settled at = %s", got.SettledAt)
	}
}

func TestKey_UsesPrefix(t *testing.T) {
	a := archive.NewS3ArchiverWithClient(newMemObjects(), "b", "archive/v1")
	want := "archive/v1/" + testutil.SeriesID().Hex() + ".json"
	if got := a.Key(testutil.SeriesID()); got != want {
		t.Errorf("key = %q, want %q", got, want)
	}
}

func TestNewS3Archiver_RequiresBucket(t *testing.T) {
	if _, err := archive.NewS3Archiver(context.Background(), archive.Config{Region: "us-east-1"}); err == nil {
		t.Fatal("expected error without bucket")
	}
}
