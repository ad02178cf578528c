package registry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Downloader fetches a model file to targetPath, writing progress through
// a .part sibling file so an interrupted download can resume by Range
// request instead of restarting from zero.
type Downloader struct {
	httpClient *http.Client
	s3Client   *s3.Client
}

// NewDownloader constructs a Downloader. s3Region may be empty if no S3
// sources are configured.
func NewDownloader(ctx context.Context, s3Region string) (*Downloader, error) {
	d := &Downloader{httpClient: &http.Client{}}

	var optFns []func(*awsconfig.LoadOptions) error
	if s3Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(s3Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("registry: loading aws config: %w", err)
	}
	d.s3Client = s3.NewFromConfig(awsCfg)
	return d, nil
}

// ProgressFunc is invoked after each chunk is written to the .part file;
// total is -1 when the source does not report a content length.
type ProgressFunc func(downloaded, total int64)

// FetchHTTP downloads an HTTP(S) source to targetPath, resuming from the
// existing .part file's size via a Range header when one is present.
func (d *Downloader) FetchHTTP(ctx context.Context, sourceURL, targetPath string, onProgress ProgressFunc) error {
	partPath := targetPath + ".part"

	var resumeFrom int64
	if fi, err := os.Stat(partPath); err == nil {
		resumeFrom = fi.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return fmt.Errorf("registry: building download request: %w", err)
	}
	if resumeFrom > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", resumeFrom))
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("registry: download request failed: %w", err)
	}
	defer resp.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY
	switch resp.StatusCode {
	case http.StatusOK:
		flags |= os.O_TRUNC
		resumeFrom = 0
	case http.StatusPartialContent:
		flags |= os.O_APPEND
	default:
		return fmt.Errorf("registry: download returned unexpected status %d", resp.StatusCode)
	}

	out, err := os.OpenFile(partPath, flags, 0o644)
	if err != nil {
		return fmt.Errorf("registry: opening partial download file: %w", err)
	}
	defer out.Close()

	total := resp.ContentLength
	if total >= 0 {
		total += resumeFrom
	} else {
		total = -1
	}

	if err := copyWithProgress(out, resp.Body, resumeFrom, total, onProgress); err != nil {
		return err
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("registry: finalizing partial download: %w", err)
	}
	if err := os.Rename(partPath, targetPath); err != nil {
		return fmt.Errorf("registry: promoting completed download: %w", err)
	}
	return nil
}

// FetchS3 downloads the object key in bucket (ParseS3URL splits an s3://
// URL into the two) to targetPath, resuming from the existing .part file's
// size via an S3 Range GET.
func (d *Downloader) FetchS3(ctx context.Context, bucket, key, targetPath string, onProgress ProgressFunc) error {
	partPath := targetPath + ".part"

	var resumeFrom int64
	if fi, err := os.Stat(partPath); err == nil {
		resumeFrom = fi.Size()
	}

	input := &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)}
	if resumeFrom > 0 {
		input.Range = aws.String(fmt.Sprintf("bytes=%d-", resumeFrom))
	}

	obj, err := d.s3Client.GetObject(ctx, input)
	if err != nil {
		return fmt.Errorf("registry: s3 get object failed: %w", err)
	}
	defer obj.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY
	if resumeFrom > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	out, err := os.OpenFile(partPath, flags, 0o644)
	if err != nil {
		return fmt.Errorf("registry: opening partial download file: %w", err)
	}
	defer out.Close()

	total := int64(-1)
	if obj.ContentLength != nil {
		total = *obj.ContentLength + resumeFrom
	}

	if err := copyWithProgress(out, obj.Body, resumeFrom, total, onProgress); err != nil {
		return err
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("registry: finalizing partial download: %w", err)
	}
	if err := os.Rename(partPath, targetPath); err != nil {
		return fmt.Errorf("registry: promoting completed download: %w", err)
	}
	return nil
}

// ParseS3URL splits an "s3://bucket/key" URL into its components.
func ParseS3URL(raw string) (bucket, key string, err error) {
	trimmed := strings.TrimPrefix(raw, "s3://")
	if trimmed == raw {
		return "", "", fmt.Errorf("registry: not an s3:// url: %s", raw)
	}
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("registry: malformed s3 url: %s", raw)
	}
	return parts[0], parts[1], nil
}

func copyWithProgress(dst io.Writer, src io.Reader, already, total int64, onProgress ProgressFunc) error {
	buf := make([]byte, 256*1024)
	downloaded := already
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return fmt.Errorf("registry: writing downloaded chunk: %w", werr)
			}
			downloaded += int64(n)
			if onProgress != nil {
				onProgress(downloaded, total)
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("registry: reading download stream: %w", readErr)
		}
	}
}
