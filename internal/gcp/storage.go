package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// GetEnv is a helper to read an environment variable or return a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// ErrObjectNotFound is returned when a referenced object does not exist.
var ErrObjectNotFound = errors.New("object not found")

// SaveToGCSAtomically writes content to a GCS object only if it doesn't already exist.
func SaveToGCSAtomically(ctx context.Context, bucket *storage.BucketHandle, objectName, content string) error {
	writer := bucket.Object(objectName).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)

	if _, err := io.Copy(writer, strings.NewReader(content)); err != nil {
		_ = writer.Close()
		if isPreconditionFailed(err) {
			slog.Info("Object already exists, skipping.", "gcsObject", objectName)
			return nil
		}
		return fmt.Errorf("failed to write to GCS: %w", err)
	}

	if err := writer.Close(); err != nil {
		if isPreconditionFailed(err) {
			slog.Info("Object already exists, skipping.", "gcsObject", objectName)
			return nil
		}
		return fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return nil
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == 412
}

// DownloadObject streams gs://bucket/object into destPath.
func DownloadObject(ctx context.Context, client *storage.Client, bucket, object, destPath string) error {
	gcsReader, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("failed to get GCS object reader for gs://%s/%s: %w", bucket, object, err)
	}
	defer gcsReader.Close()
	localFile, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create temp file at %s: %w", destPath, err)
	}
	defer localFile.Close()
	if _, err := io.Copy(localFile, gcsReader); err != nil {
		return fmt.Errorf("failed to copy GCS object to local file: %w", err)
	}
	return localFile.Close()
}

// UploadFile copies a local file to an object, retrying with exponential backoff.
func UploadFile(ctx context.Context, bucket *storage.BucketHandle, localPath, destObject string) error {
	const maxRetries = 4
	var backoff = 1 * time.Second
	var lastErr error

	for i := 0; i < maxRetries; i++ {
		err := func() error {
			localFileReader, err := os.Open(localPath)
			if err != nil {
				return fmt.Errorf("could not open local file %s: %w", localPath, err)
			}
			defer localFileReader.Close()

			writeCtx, cancel := context.WithTimeout(ctx, time.Second*50)
			defer cancel()

			gcsWriter := bucket.Object(destObject).NewWriter(writeCtx)
			gcsWriter.ContentType = contentType(destObject)

			if _, err := io.Copy(gcsWriter, localFileReader); err != nil {
				_ = gcsWriter.Close()
				return fmt.Errorf("io.Copy to GCS failed: %w", err)
			}
			if err := gcsWriter.Close(); err != nil {
				return fmt.Errorf("failed to close GCS writer (finalize upload): %w", err)
			}
			return nil
		}()

		if err == nil {
			return nil
		}

		lastErr = err
		slog.Warn(
			"Upload failed, will retry.",
			"gcsObject", destObject,
			"attempt", i+1,
			"maxRetries", maxRetries,
			"backoff", backoff.String(),
			"error", err,
		)

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			slog.Error("Context cancelled during backoff. Aborting retries.", "gcsObject", destObject, "error", ctx.Err())
			return ctx.Err()
		}
	}
	slog.Error("Upload failed after all retries.", "gcsObject", destObject, "error", lastErr)
	return fmt.Errorf("upload for %s failed after all retries: %w", destObject, lastErr)
}

func contentType(object string) string {
	switch path.Ext(object) {
	case ".zip":
		return "application/zip"
	case ".pdf":
		return "application/pdf"
	case ".json":
		return "application/json"
	}
	return "application/octet-stream"
}

// ParseRef splits a gs://bucket/object reference.
func ParseRef(ref string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(ref, "gs://")
	if !ok {
		return "", "", fmt.Errorf("not a gs:// reference: %q", ref)
	}
	bucket, object, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("incomplete gs:// reference: %q", ref)
	}
	return bucket, object, nil
}

// ArchiveBucket stores job archives under jobs/{jobId}/.
type ArchiveBucket struct {
	client *storage.Client
	bucket string
}

func NewArchiveBucket(client *storage.Client, bucket string) *ArchiveBucket {
	return &ArchiveBucket{client: client, bucket: bucket}
}

func jobPrefix(jobID string) string {
	return "jobs/" + jobID + "/"
}

// UploadArchive uploads the archive and returns its gs:// reference.
func (b *ArchiveBucket) UploadArchive(ctx context.Context, jobID, localPath string) (string, error) {
	object := jobPrefix(jobID) + path.Base(localPath)
	if err := UploadFile(ctx, b.client.Bucket(b.bucket), localPath, object); err != nil {
		return "", err
	}
	return fmt.Sprintf("gs://%s/%s", b.bucket, object), nil
}

// SaveOutputs records the output names of a job next to its archive. An
// existing record is left untouched.
func (b *ArchiveBucket) SaveOutputs(ctx context.Context, jobID string, names []string) error {
	object := jobPrefix(jobID) + "outputs.txt"
	return SaveToGCSAtomically(ctx, b.client.Bucket(b.bucket), object, strings.Join(names, "\n")+"\n")
}

// OpenRef opens a gs:// reference for reading.
func (b *ArchiveBucket) OpenRef(ctx context.Context, ref string) (io.ReadCloser, error) {
	bucket, object, err := ParseRef(ref)
	if err != nil {
		return nil, err
	}
	r, err := b.client.Bucket(bucket).Object(object).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, ErrObjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", ref, err)
	}
	return r, nil
}

// FindArchive looks up the archive of a job that is not known locally.
func (b *ArchiveBucket) FindArchive(ctx context.Context, jobID string) (string, error) {
	it := b.client.Bucket(b.bucket).Objects(ctx, &storage.Query{Prefix: jobPrefix(jobID)})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to list job objects: %w", err)
		}
		if strings.HasSuffix(attrs.Name, ".zip") {
			return fmt.Sprintf("gs://%s/%s", b.bucket, attrs.Name), nil
		}
	}
	return "", ErrObjectNotFound
}
