package gcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Lllllllleong/packingslipsorter/internal/models"
)

// ErrDocumentNotFound is returned when no job document exists for an id.
var ErrDocumentNotFound = errors.New("firestore document not found")

// NewFirestoreClient creates and returns a new Firestore client for the given project ID.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return client, nil
}

// JobStore mirrors job status records into a Firestore collection keyed by job id.
type JobStore struct {
	client     *firestore.Client
	collection string
}

func NewJobStore(client *firestore.Client, collection string) *JobStore {
	return &JobStore{client: client, collection: collection}
}

// SaveJob overwrites the job's document with the given snapshot.
func (s *JobStore) SaveJob(ctx context.Context, job models.Job) error {
	if _, err := s.client.Collection(s.collection).Doc(job.ID).Set(ctx, job); err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob reads a mirrored job, e.g. one processed by another instance.
func (s *JobStore) GetJob(ctx context.Context, id string) (models.Job, error) {
	snap, err := s.client.Collection(s.collection).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return models.Job{}, ErrDocumentNotFound
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("failed to read job %s: %w", id, err)
	}
	var job models.Job
	if err := snap.DataTo(&job); err != nil {
		return models.Job{}, fmt.Errorf("failed to decode job %s: %w", id, err)
	}
	return job, nil
}

// FindDuplicate returns the id of a job that already processed a file with
// this hash. Failed jobs do not count so the file can be retried, however many
// failed attempts precede a reusable one.
func (s *JobStore) FindDuplicate(ctx context.Context, fileHash string) (string, bool, error) {
	iter := s.client.Collection(s.collection).Where("fileHash", "==", fileHash).Documents(ctx)
	defer iter.Stop()

	return firstReusableJob(func() (string, models.Job, error) {
		doc, err := iter.Next()
		if err != nil {
			return "", models.Job{}, err
		}
		var job models.Job
		if err := doc.DataTo(&job); err != nil {
			slog.Warn("Skipping undecodable job document", "id", doc.Ref.ID, "error", err)
			return doc.Ref.ID, models.Job{Status: models.JobStatusError}, nil
		}
		return doc.Ref.ID, job, nil
	})
}

// firstReusableJob drains next until a job that did not fail turns up.
func firstReusableJob(next func() (string, models.Job, error)) (string, bool, error) {
	for {
		id, job, err := next()
		if errors.Is(err, iterator.Done) {
			return "", false, nil
		}
		if err != nil {
			return "", false, fmt.Errorf("failed to query for duplicates: %w", err)
		}
		if job.Status != models.JobStatusError {
			return id, true, nil
		}
	}
}
