package cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/dmitrijs2005/fsmirror/internal/common"
	sc "github.com/dmitrijs2005/fsmirror/internal/config"
)

// S3Store keeps blobs in an S3-compatible bucket under the same
// "<hh>/<hash><ext>" keys the disk backend uses, with the descriptor stored
// as "<key>.json". Incoming content is spooled to a temp file so the hash is
// known before the object key is chosen.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store builds a store over the bucket configured in cfg.
func NewS3Store(ctx context.Context, cfg *sc.Config) (*S3Store, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.S3Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.S3RootUser,
			cfg.S3RootPassword,
			"",
		)))
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.S3BaseEndpoint)
	})

	return &S3Store{client: client, bucket: cfg.S3Bucket}, nil
}

func (s *S3Store) Put(ctx context.Context, displayName string, r io.Reader) (*PutResult, error) {
	tmp, err := os.CreateTemp("", "fsmirror-cache-*")
	if err != nil {
		return nil, fmt.Errorf("create temp: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, hasher), r)
	if err != nil {
		return nil, fmt.Errorf("write temp: %w", err)
	}

	hash := hex.EncodeToString(hasher.Sum(nil))
	rel := RelPath(hash, displayName)
	res := &PutResult{Hash: hash, RelPath: rel, Size: size}

	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(rel),
	})
	if err == nil {
		res.Existed = true
		return res, nil
	}
	var notFound *types.NotFound
	if !errors.As(err, &notFound) {
		return nil, fmt.Errorf("head %s: %w", rel, err)
	}

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind temp: %w", err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(rel),
		Body:          tmp,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return nil, fmt.Errorf("put %s: %w", rel, err)
	}

	desc := Descriptor{
		Filename:    path.Base(rel),
		DisplayName: displayName,
		Hash:        hash,
		Size:        size,
		CreatedAt:   time.Now().UTC(),
	}
	data, err := json.Marshal(desc)
	if err != nil {
		return nil, fmt.Errorf("marshal descriptor: %w", err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(rel + ".json"),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return nil, fmt.Errorf("put descriptor %s: %w", rel, err)
	}

	return res, nil
}

func (s *S3Store) Open(ctx context.Context, relPath string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(relPath),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("get %s: %w", relPath, err)
	}
	return out.Body, nil
}
