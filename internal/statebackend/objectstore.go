package statebackend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/flocksql/flock/internal/metrics"
)

// S3API is the subset of *s3.Client the object-store backend depends on,
// so tests can substitute a fake without standing up a real bucket.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// objectStoreBackend persists state as S3 objects, one per Key, under a
// bucket named for the query instance (spec §4.5: "bucket = qid"). This
// is the backend an aggregator deployed across independent invocations
// must use, since those invocations share no process memory.
type objectStoreBackend struct {
	client S3API
}

// NewObjectStore constructs the S3-backed state backend variant.
func NewObjectStore(client S3API) Backend {
	return &objectStoreBackend{client: client}
}

func (o *objectStoreBackend) Write(ctx context.Context, key Key, raw []byte) (err error) {
	defer func() {
		metrics.Global().RecordObjectStoreOp("write", err == nil)
		if err == nil {
			metrics.Global().RecordBytesEncoded(len(raw))
		}
	}()
	_, err = o.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(key.QID),
		Key:    aws.String(objectKey(key)),
		Body:   bytes.NewReader(raw),
	})
	if err != nil {
		return fmt.Errorf("statebackend: put %s/%s: %w", key.QID, objectKey(key), err)
	}
	return nil
}

func (o *objectStoreBackend) Read(ctx context.Context, key Key) (raw []byte, err error) {
	defer func() {
		metrics.Global().RecordObjectStoreOp("read", err == nil)
		if err == nil {
			metrics.Global().RecordBytesDecoded(len(raw))
		}
	}()
	out, err := o.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(key.QID),
		Key:    aws.String(objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			err = ErrNotFound
			return nil, err
		}
		err = fmt.Errorf("statebackend: get %s/%s: %w", key.QID, objectKey(key), err)
		return nil, err
	}
	defer out.Body.Close()
	raw, err = io.ReadAll(out.Body)
	if err != nil {
		err = fmt.Errorf("statebackend: read body %s/%s: %w", key.QID, objectKey(key), err)
		return nil, err
	}
	return raw, nil
}

func (o *objectStoreBackend) ReadAll(ctx context.Context, qid string) (map[Key][]byte, error) {
	out := make(map[Key][]byte)
	var token *string
	for {
		page, err := o.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(qid),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("statebackend: list %s: %w", qid, err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			key, ok := parseObjectKey(qid, *obj.Key)
			if !ok {
				continue
			}
			raw, err := o.Read(ctx, key)
			if err != nil {
				return nil, err
			}
			out[key] = raw
		}
		if page.IsTruncated == nil || !*page.IsTruncated {
			break
		}
		token = page.NextContinuationToken
	}
	return out, nil
}

func (o *objectStoreBackend) isBackend() {}

// parseObjectKey reverses objectKey, reconstructing a Key from its
// "<plan-index>/<shuffle-id>/<seq-num>" object name.
func parseObjectKey(qid, name string) (Key, bool) {
	parts := strings.SplitN(name, "/", 3)
	if len(parts) != 3 {
		return Key{}, false
	}
	var planIndex, shuffleID, seqNum int
	if _, err := fmt.Sscanf(parts[0], "%d", &planIndex); err != nil {
		return Key{}, false
	}
	if _, err := fmt.Sscanf(parts[1], "%d", &shuffleID); err != nil {
		return Key{}, false
	}
	if _, err := fmt.Sscanf(parts[2], "%d", &seqNum); err != nil {
		return Key{}, false
	}
	return Key{QID: qid, PlanIndex: planIndex, ShuffleID: shuffleID, SeqNum: seqNum}, true
}

// isNotFound reports whether err is S3's "no such key" response.
func isNotFound(err error) bool {
	var re *smithyhttp.ResponseError
	if errors.As(err, &re) {
		return re.HTTPStatusCode() == 404
	}
	return false
}
