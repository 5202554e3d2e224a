// Package s3fs implements resource access for s3 URIs. The bucket is
// the network location and the object key is the path below it. Endpoint
// and credentials come from the usual AWS environment, with RESPATH_S3_*
// overrides for profile-free deployments such as MinIO or Ceph. The
// package registers itself for the s3 scheme on import.
package s3fs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/spf13/viper"

	"github.com/astrodata/respath/pkg/respath"
	"github.com/astrodata/respath/pkg/xerrors"
)

func init() {
	respath.Register(respath.SchemeS3, func(ctx context.Context) (respath.Accessor, error) {
		return NewFromEnv(ctx)
	})
}

// API is the subset of the S3 client used here, split out so tests can
// substitute a fake.
type API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, opts ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Accessor performs object storage I/O through an S3-compatible API.
type Accessor struct {
	client API
}

// New wraps an existing client.
func New(client API) *Accessor {
	return &Accessor{client: client}
}

// NewFromEnv builds the client from the AWS default chain, honoring
// RESPATH_S3_ENDPOINT_URL, RESPATH_S3_REGION, RESPATH_S3_ACCESS_KEY and
// RESPATH_S3_SECRET_KEY for non-AWS endpoints.
func NewFromEnv(ctx context.Context) (*Accessor, error) {
	v := viper.New()
	v.SetEnvPrefix("respath")
	v.AutomaticEnv()
	v.SetDefault("s3_region", "us-east-1")

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(v.GetString("s3_region")),
	}
	if ak := v.GetString("s3_access_key"); ak != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(ak, v.GetString("s3_secret_key"), ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindInternal, "s3-config", "", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint := v.GetString("s3_endpoint_url"); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			// Virtual-host addressing breaks on bare endpoints.
			o.UsePathStyle = true
		}
	})
	return New(client), nil
}

func location(r respath.ResourcePath) (bucket, key string) {
	return r.Netloc(), r.RelativeToPathRoot()
}

func isNoSuchKey(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "404":
			return true
		}
	}
	return false
}

func (a *Accessor) Exists(ctx context.Context, r respath.ResourcePath) (bool, error) {
	bucket, key := location(r)
	if r.DirLike() {
		// Directories are implied by the keys below them.
		out, err := a.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:  aws.String(bucket),
			Prefix:  aws.String(key),
			MaxKeys: aws.Int32(1),
		})
		if err != nil {
			return false, xerrors.Wrap(xerrors.KindInternal, "exists", r.String(), err)
		}
		return aws.ToInt32(out.KeyCount) > 0, nil
	}
	_, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isNoSuchKey(err) {
		return false, nil
	}
	return false, xerrors.Wrap(xerrors.KindInternal, "exists", r.String(), err)
}

func (a *Accessor) Size(ctx context.Context, r respath.ResourcePath) (int64, error) {
	if r.DirLike() {
		return 0, nil
	}
	bucket, key := location(r)
	out, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return 0, xerrors.E(xerrors.KindNotFound, "size", r.String())
		}
		return 0, xerrors.Wrap(xerrors.KindInternal, "size", r.String(), err)
	}
	return aws.ToInt64(out.ContentLength), nil
}

func (a *Accessor) Read(ctx context.Context, r respath.ResourcePath, size int64) ([]byte, error) {
	bucket, key := location(r)
	in := &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	if size > 0 {
		in.Range = aws.String(fmt.Sprintf("bytes=0-%d", size-1))
	}
	out, err := a.client.GetObject(ctx, in)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, xerrors.E(xerrors.KindNotFound, "read", r.String())
		}
		return nil, xerrors.Wrap(xerrors.KindInternal, "read", r.String(), err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindInternal, "read", r.String(), err)
	}
	if size >= 0 && int64(len(data)) > size {
		data = data[:size]
	}
	return data, nil
}

func (a *Accessor) Write(ctx context.Context, r respath.ResourcePath, data []byte, overwrite bool) error {
	if !overwrite {
		exists, err := a.Exists(ctx, r)
		if err != nil {
			return err
		}
		if exists {
			return xerrors.E(xerrors.KindAlreadyExists, "write", r.String())
		}
	}
	bucket, key := location(r)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return xerrors.Wrap(xerrors.KindInternal, "write", r.String(), err)
	}
	return nil
}

// Remove deletes the object. S3 deletes are idempotent: removing an
// absent key succeeds.
func (a *Accessor) Remove(ctx context.Context, r respath.ResourcePath) error {
	bucket, key := location(r)
	_, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return xerrors.Wrap(xerrors.KindInternal, "remove", r.String(), err)
	}
	return nil
}

// Mkdir writes a zero-byte directory marker so empty prefixes survive
// listing.
func (a *Accessor) Mkdir(ctx context.Context, r respath.ResourcePath) error {
	if !r.DirLike() {
		return xerrors.E(xerrors.KindInvalid, "mkdir", r.String())
	}
	bucket, key := location(r)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(nil),
	})
	if err != nil {
		return xerrors.Wrap(xerrors.KindInternal, "mkdir", r.String(), err)
	}
	return nil
}

// Open reads the whole object up front; object stores have no cheap
// server-side seek within one connection.
func (a *Accessor) Open(ctx context.Context, r respath.ResourcePath) (respath.Handle, error) {
	data, err := a.Read(ctx, r, -1)
	if err != nil {
		return nil, err
	}
	return respath.NewBufferHandle(data), nil
}

func (a *Accessor) AsLocal(ctx context.Context, r respath.ResourcePath) (respath.ResourcePath, error) {
	data, err := a.Read(ctx, r, -1)
	if err != nil {
		return respath.ResourcePath{}, err
	}
	tmp, err := respath.MakeTemp(r.Extension())
	if err != nil {
		return respath.ResourcePath{}, err
	}
	p, err := tmp.OSPath()
	if err != nil {
		return respath.ResourcePath{}, err
	}
	if err := os.WriteFile(p, data, 0o600); err != nil {
		os.Remove(p)
		return respath.ResourcePath{}, xerrors.Wrap(xerrors.KindOf(err), "as-local", p, err)
	}
	return tmp, nil
}

// Walk lists the prefix one level at a time using the delimiter, like a
// file system traversal.
func (a *Accessor) Walk(ctx context.Context, r respath.ResourcePath, fn respath.WalkFunc) error {
	if !r.DirLike() {
		return xerrors.E(xerrors.KindInvalid, "walk", r.String())
	}
	bucket, prefix := location(r)

	var subdirs, files []string
	paginator := s3.NewListObjectsV2Paginator(a.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return xerrors.Wrap(xerrors.KindInternal, "walk", r.String(), err)
		}
		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
			subdirs = append(subdirs, name)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			// Skip the directory marker for the prefix itself.
			if name == "" {
				continue
			}
			files = append(files, name)
		}
	}
	sort.Strings(subdirs)
	sort.Strings(files)
	if err := fn(r, subdirs, files); err != nil {
		return err
	}
	for _, sub := range subdirs {
		child, err := r.Join(sub + "/")
		if err != nil {
			return err
		}
		if err := a.Walk(ctx, child, fn); err != nil {
			return err
		}
	}
	return nil
}

func (a *Accessor) TransferModes() []respath.TransferMode {
	return []respath.TransferMode{respath.ModeAuto, respath.ModeCopy, respath.ModeMove}
}

func (a *Accessor) TransferDefault() respath.TransferMode {
	return respath.ModeCopy
}

// TransferDirect copies server-side between buckets on the same
// endpoint; a move deletes the source afterwards.
func (a *Accessor) TransferDirect(ctx context.Context, dst, src respath.ResourcePath, mode respath.TransferMode, overwrite bool) (bool, error) {
	if src.Scheme() != respath.SchemeS3 {
		return false, nil
	}
	srcBucket, srcKey := location(src)
	dstBucket, dstKey := location(dst)
	_, err := a.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(dstBucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(url.PathEscape(srcBucket + "/" + srcKey)),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return true, xerrors.E(xerrors.KindNotFound, "copy", src.String())
		}
		return true, xerrors.Wrap(xerrors.KindInternal, "copy", dst.String(), err)
	}
	if mode == respath.ModeMove {
		if err := a.Remove(ctx, src); err != nil {
			return true, err
		}
	}
	return true, nil
}
