// Package metadata defines the interface and implementations for Shamstore's
// metadata layer, which tracks buckets, objects, bucket configuration blobs,
// tag sets, and multipart uploads.
package metadata

import (
	"context"
	"encoding/json"
	"io"
	"time"
)

// Config kinds recognized by the bucket configuration operations.
const (
	ConfigCORS      = "cors"
	ConfigWebsite   = "website"
	ConfigPolicy    = "policy"
	ConfigLifecycle = "lifecycle"
	ConfigACL       = "acl"
	ConfigTagging   = "tagging"
)

// BucketRecord represents the metadata for a single bucket.
type BucketRecord struct {
	Name         string
	Region       string
	OwnerID      string
	OwnerDisplay string
	ACL          json.RawMessage // JSON-serialized ACL
	CreatedAt    time.Time
}

// Tag is a single key/value pair of an object tag set. Order is preserved.
type Tag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ObjectRecord represents the metadata for a single stored object.
type ObjectRecord struct {
	Bucket                  string
	Key                     string
	Size                    int64
	ETag                    string
	ContentType             string
	ContentEncoding         string
	ContentLanguage         string
	ContentDisposition      string
	CacheControl            string
	Expires                 string
	StorageClass            string
	WebsiteRedirectLocation string
	ACL                     json.RawMessage // JSON-serialized ACL
	UserMetadata            map[string]string
	Tags                    []Tag
	LastModified            time.Time
}

// MultipartUploadRecord represents the metadata for an in-progress multipart
// upload. Content attributes are staged at initiate time and applied to the
// final object on completion.
type MultipartUploadRecord struct {
	UploadID                string
	Bucket                  string
	Key                     string
	ContentType             string
	ContentEncoding         string
	ContentLanguage         string
	ContentDisposition      string
	CacheControl            string
	Expires                 string
	StorageClass            string
	WebsiteRedirectLocation string
	ACL                     json.RawMessage
	UserMetadata            map[string]string
	OwnerID                 string
	OwnerDisplay            string
	InitiatedAt             time.Time
}

// PartRecord represents the metadata for a single uploaded part.
type PartRecord struct {
	UploadID     string
	PartNumber   int
	Size         int64
	ETag         string
	LastModified time.Time
}

// ListObjectsOptions specifies filtering and pagination options for listing objects.
type ListObjectsOptions struct {
	Prefix            string
	Delimiter         string
	Marker            string
	StartAfter        string
	ContinuationToken string
	MaxKeys           int
}

// ListObjectsResult holds the result of a list objects operation.
type ListObjectsResult struct {
	Objects               []ObjectRecord
	CommonPrefixes        []string
	IsTruncated           bool
	NextMarker            string
	NextContinuationToken string
}

// ListUploadsOptions specifies filtering and pagination options for listing multipart uploads.
type ListUploadsOptions struct {
	KeyMarker      string
	UploadIDMarker string
	Prefix         string
	Delimiter      string
	MaxUploads     int
}

// ListUploadsResult holds the result of a list multipart uploads operation.
type ListUploadsResult struct {
	Uploads            []MultipartUploadRecord
	CommonPrefixes     []string
	IsTruncated        bool
	NextKeyMarker      string
	NextUploadIDMarker string
}

// ListPartsOptions specifies filtering and pagination options for listing parts.
type ListPartsOptions struct {
	PartNumberMarker int
	MaxParts         int
}

// ListPartsResult holds the result of a list parts operation.
type ListPartsResult struct {
	Parts                []PartRecord
	IsTruncated          bool
	NextPartNumberMarker int
}

// Store defines the interface for all metadata operations required by
// Shamstore. Implementations must be safe for concurrent use; each
// mutating method is atomic with respect to the others on the same bucket.
type Store interface {
	io.Closer

	// Ping checks connectivity to the metadata store.
	Ping(ctx context.Context) error

	// Bucket operations

	// CreateBucket creates a new bucket record.
	CreateBucket(ctx context.Context, bucket *BucketRecord) error

	// GetBucket retrieves the metadata for the named bucket. A missing
	// bucket returns (nil, nil).
	GetBucket(ctx context.Context, name string) (*BucketRecord, error)

	// DeleteBucket removes the named bucket. Returns an error if the bucket
	// holds any objects or in-progress multipart uploads.
	DeleteBucket(ctx context.Context, name string) error

	// ListBuckets returns all bucket records in creation order.
	ListBuckets(ctx context.Context) ([]BucketRecord, error)

	// Bucket configuration blobs

	// PutBucketConfig stores the raw XML configuration blob of the given
	// kind, replacing any previous value atomically.
	PutBucketConfig(ctx context.Context, bucket, kind string, blob []byte) error

	// GetBucketConfig returns the raw XML configuration blob of the given
	// kind. An unset configuration returns (nil, nil).
	GetBucketConfig(ctx context.Context, bucket, kind string) ([]byte, error)

	// DeleteBucketConfig removes the configuration blob of the given kind.
	// Removing an unset configuration is not an error.
	DeleteBucketConfig(ctx context.Context, bucket, kind string) error

	// Object operations

	// PutObject creates or replaces the metadata for an object.
	PutObject(ctx context.Context, obj *ObjectRecord) error

	// GetObject retrieves the metadata for the specified object. A missing
	// object returns (nil, nil).
	GetObject(ctx context.Context, bucket, key string) (*ObjectRecord, error)

	// DeleteObject removes the metadata for the specified object.
	// Idempotent: deleting a missing key succeeds.
	DeleteObject(ctx context.Context, bucket, key string) error

	// UpdateObjectAcl updates the ACL for the specified object.
	UpdateObjectAcl(ctx context.Context, bucket, key string, acl json.RawMessage) error

	// UpdateObjectTags replaces the tag set of the specified object. The
	// object's content, ETag, and LastModified are unchanged. A nil slice
	// clears the tag set.
	UpdateObjectTags(ctx context.Context, bucket, key string, tags []Tag) error

	// ListObjects lists objects in the given bucket according to the
	// provided options, taking a snapshot of the key set at entry.
	ListObjects(ctx context.Context, bucket string, opts ListObjectsOptions) (*ListObjectsResult, error)

	// Multipart upload operations

	// CreateMultipartUpload creates a new multipart upload record and returns
	// the generated upload ID.
	CreateMultipartUpload(ctx context.Context, upload *MultipartUploadRecord) (string, error)

	// GetMultipartUpload retrieves the metadata for the specified multipart upload.
	GetMultipartUpload(ctx context.Context, bucket, key, uploadID string) (*MultipartUploadRecord, error)

	// PutPart records metadata for an uploaded part. Re-uploading a part
	// number replaces the previous record.
	PutPart(ctx context.Context, part *PartRecord) error

	// ListParts lists parts for the specified multipart upload.
	ListParts(ctx context.Context, uploadID string, opts ListPartsOptions) (*ListPartsResult, error)

	// GetPartsForCompletion retrieves part records for the given part numbers,
	// used during CompleteMultipartUpload to validate and assemble parts.
	GetPartsForCompletion(ctx context.Context, uploadID string, partNumbers []int) ([]PartRecord, error)

	// CompleteMultipartUpload finalizes a multipart upload, creating the final
	// object record and cleaning up part records.
	CompleteMultipartUpload(ctx context.Context, bucket, key, uploadID string, obj *ObjectRecord) error

	// AbortMultipartUpload cancels a multipart upload and removes all associated
	// part records.
	AbortMultipartUpload(ctx context.Context, bucket, key, uploadID string) error

	// ListMultipartUploads lists in-progress multipart uploads for the given bucket.
	ListMultipartUploads(ctx context.Context, bucket string, opts ListUploadsOptions) (*ListUploadsResult, error)
}

// ExpiredUpload holds the identifying fields of an expired multipart upload,
// returned by ReapExpiredUploads so the caller can clean up storage files.
type ExpiredUpload struct {
	UploadID   string
	BucketName string
	ObjectKey  string
}

// UploadReaper is an optional interface for metadata stores that support
// reaping expired multipart uploads.
type UploadReaper interface {
	ReapExpiredUploads(ttlSeconds int) ([]ExpiredUpload, error)
}
