package metadata

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/shamstore/shamstore/internal/listing"
)

const (
	// timeFormat is the ISO 8601 format used for all timestamps in SQLite.
	timeFormat = "2006-01-02T15:04:05.000Z"
)

// SQLiteStore implements the Store interface using SQLite as the backing
// database. It provides durable metadata storage so buckets and objects
// survive a restart when reset-on-close is disabled.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLiteStore with the given DSN and initializes
// the database schema.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening SQLite database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initDB(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing SQLite database: %w", err)
	}
	return s, nil
}

// initDB applies PRAGMAs and creates the required tables and indexes.
// This is safe to call multiple times (idempotent via IF NOT EXISTS).
func (s *SQLiteStore) initDB() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("executing %q: %w", p, err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS schema_version (
			version    INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS buckets (
			name           TEXT PRIMARY KEY,
			region         TEXT NOT NULL DEFAULT 'us-east-1',
			owner_id       TEXT NOT NULL,
			owner_display  TEXT NOT NULL DEFAULT '',
			acl            TEXT NOT NULL DEFAULT '{}',
			created_at     TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS bucket_configs (
			bucket  TEXT NOT NULL,
			kind    TEXT NOT NULL,
			blob    BLOB NOT NULL,

			PRIMARY KEY (bucket, kind),
			FOREIGN KEY (bucket) REFERENCES buckets(name) ON DELETE CASCADE
		);

		CREATE TABLE IF NOT EXISTS objects (
			bucket              TEXT NOT NULL,
			key                 TEXT NOT NULL,
			size                INTEGER NOT NULL,
			etag                TEXT NOT NULL,
			content_type        TEXT NOT NULL DEFAULT 'binary/octet-stream',
			content_encoding    TEXT,
			content_language    TEXT,
			content_disposition TEXT,
			cache_control       TEXT,
			expires             TEXT,
			storage_class       TEXT NOT NULL DEFAULT 'STANDARD',
			website_redirect    TEXT,
			acl                 TEXT NOT NULL DEFAULT '{}',
			user_metadata       TEXT NOT NULL DEFAULT '{}',
			tags                TEXT NOT NULL DEFAULT '[]',
			last_modified       TEXT NOT NULL,

			PRIMARY KEY (bucket, key),
			FOREIGN KEY (bucket) REFERENCES buckets(name) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_objects_bucket ON objects(bucket);
		CREATE INDEX IF NOT EXISTS idx_objects_bucket_prefix ON objects(bucket, key);

		CREATE TABLE IF NOT EXISTS multipart_uploads (
			upload_id           TEXT PRIMARY KEY,
			bucket              TEXT NOT NULL,
			key                 TEXT NOT NULL,
			content_type        TEXT NOT NULL DEFAULT 'binary/octet-stream',
			content_encoding    TEXT,
			content_language    TEXT,
			content_disposition TEXT,
			cache_control       TEXT,
			expires             TEXT,
			storage_class       TEXT NOT NULL DEFAULT 'STANDARD',
			website_redirect    TEXT,
			acl                 TEXT NOT NULL DEFAULT '{}',
			user_metadata       TEXT NOT NULL DEFAULT '{}',
			owner_id            TEXT NOT NULL,
			owner_display       TEXT NOT NULL DEFAULT '',
			initiated_at        TEXT NOT NULL,

			FOREIGN KEY (bucket) REFERENCES buckets(name) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_uploads_bucket ON multipart_uploads(bucket);
		CREATE INDEX IF NOT EXISTS idx_uploads_bucket_key ON multipart_uploads(bucket, key);

		CREATE TABLE IF NOT EXISTS multipart_parts (
			upload_id    TEXT NOT NULL,
			part_number  INTEGER NOT NULL,
			size         INTEGER NOT NULL,
			etag         TEXT NOT NULL,
			last_modified TEXT NOT NULL,

			PRIMARY KEY (upload_id, part_number),
			FOREIGN KEY (upload_id) REFERENCES multipart_uploads(upload_id) ON DELETE CASCADE
		);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}

	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO schema_version (version, applied_at) VALUES (1, ?)`,
		time.Now().UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting schema version: %w", err)
	}

	return nil
}

// Close closes the underlying SQLite database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping checks connectivity to the database.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- Bucket operations ----

// CreateBucket creates a new bucket record in the SQLite database.
func (s *SQLiteStore) CreateBucket(ctx context.Context, bucket *BucketRecord) error {
	acl := "{}"
	if bucket.ACL != nil {
		acl = string(bucket.ACL)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO buckets (name, region, owner_id, owner_display, acl, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		bucket.Name,
		bucket.Region,
		bucket.OwnerID,
		bucket.OwnerDisplay,
		acl,
		bucket.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") ||
			strings.Contains(err.Error(), "PRIMARY KEY") {
			return fmt.Errorf("bucket already exists: %s", bucket.Name)
		}
		return fmt.Errorf("creating bucket %q: %w", bucket.Name, err)
	}
	return nil
}

// GetBucket retrieves bucket metadata by name.
func (s *SQLiteStore) GetBucket(ctx context.Context, name string) (*BucketRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT name, region, owner_id, owner_display, acl, created_at
		 FROM buckets WHERE name = ?`,
		name,
	)

	var b BucketRecord
	var aclStr, createdAtStr string
	err := row.Scan(&b.Name, &b.Region, &b.OwnerID, &b.OwnerDisplay, &aclStr, &createdAtStr)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting bucket %q: %w", name, err)
	}
	b.ACL = json.RawMessage(aclStr)
	b.CreatedAt, _ = time.Parse(timeFormat, createdAtStr)
	return &b, nil
}

// DeleteBucket removes the named bucket. Returns an error if the bucket
// holds any objects or in-progress multipart uploads.
func (s *SQLiteStore) DeleteBucket(ctx context.Context, name string) error {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM buckets WHERE name = ?`, name,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking bucket %q: %w", name, err)
	}
	if count == 0 {
		return fmt.Errorf("bucket not found: %s", name)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM objects WHERE bucket = ? LIMIT 1`, name,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking bucket contents %q: %w", name, err)
	}
	if count > 0 {
		return fmt.Errorf("bucket not empty: %s", name)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM multipart_uploads WHERE bucket = ? LIMIT 1`, name,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking bucket uploads %q: %w", name, err)
	}
	if count > 0 {
		return fmt.Errorf("bucket not empty: %s", name)
	}

	// Config blobs cascade with the bucket row.
	_, err = s.db.ExecContext(ctx,
		`DELETE FROM buckets WHERE name = ?`, name,
	)
	if err != nil {
		return fmt.Errorf("deleting bucket %q: %w", name, err)
	}
	return nil
}

// ListBuckets returns all buckets in creation order.
func (s *SQLiteStore) ListBuckets(ctx context.Context) ([]BucketRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, region, owner_id, owner_display, acl, created_at
		 FROM buckets
		 ORDER BY created_at, name`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing buckets: %w", err)
	}
	defer rows.Close()

	var buckets []BucketRecord
	for rows.Next() {
		var b BucketRecord
		var aclStr, createdAtStr string
		if err := rows.Scan(&b.Name, &b.Region, &b.OwnerID, &b.OwnerDisplay, &aclStr, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning bucket row: %w", err)
		}
		b.ACL = json.RawMessage(aclStr)
		b.CreatedAt, _ = time.Parse(timeFormat, createdAtStr)
		buckets = append(buckets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating bucket rows: %w", err)
	}
	return buckets, nil
}

// ---- Bucket configuration blobs ----

// PutBucketConfig stores the raw XML configuration blob of the given kind.
func (s *SQLiteStore) PutBucketConfig(ctx context.Context, bucket, kind string, blob []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO bucket_configs (bucket, kind, blob) VALUES (?, ?, ?)`,
		bucket, kind, blob,
	)
	if err != nil {
		return fmt.Errorf("putting %s config for bucket %q: %w", kind, bucket, err)
	}
	return nil
}

// GetBucketConfig retrieves the raw XML configuration blob of the given kind.
func (s *SQLiteStore) GetBucketConfig(ctx context.Context, bucket, kind string) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT blob FROM bucket_configs WHERE bucket = ? AND kind = ?`,
		bucket, kind,
	).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting %s config for bucket %q: %w", kind, bucket, err)
	}
	return blob, nil
}

// DeleteBucketConfig removes the configuration blob of the given kind.
func (s *SQLiteStore) DeleteBucketConfig(ctx context.Context, bucket, kind string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM bucket_configs WHERE bucket = ? AND kind = ?`,
		bucket, kind,
	)
	if err != nil {
		return fmt.Errorf("deleting %s config for bucket %q: %w", kind, bucket, err)
	}
	return nil
}

// ---- Object operations ----

// PutObject creates or replaces the metadata for an object.
func (s *SQLiteStore) PutObject(ctx context.Context, obj *ObjectRecord) error {
	userMeta := "{}"
	if obj.UserMetadata != nil {
		b, err := json.Marshal(obj.UserMetadata)
		if err != nil {
			return fmt.Errorf("marshaling user metadata: %w", err)
		}
		userMeta = string(b)
	}

	tags := "[]"
	if obj.Tags != nil {
		b, err := json.Marshal(obj.Tags)
		if err != nil {
			return fmt.Errorf("marshaling tags: %w", err)
		}
		tags = string(b)
	}

	acl := "{}"
	if obj.ACL != nil {
		acl = string(obj.ACL)
	}

	storageClass := obj.StorageClass
	if storageClass == "" {
		storageClass = "STANDARD"
	}

	contentType := obj.ContentType
	if contentType == "" {
		contentType = "binary/octet-stream"
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO objects
			(bucket, key, size, etag, content_type, content_encoding, content_language,
			 content_disposition, cache_control, expires, storage_class, website_redirect,
			 acl, user_metadata, tags, last_modified)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		obj.Bucket,
		obj.Key,
		obj.Size,
		obj.ETag,
		contentType,
		nullString(obj.ContentEncoding),
		nullString(obj.ContentLanguage),
		nullString(obj.ContentDisposition),
		nullString(obj.CacheControl),
		nullString(obj.Expires),
		storageClass,
		nullString(obj.WebsiteRedirectLocation),
		acl,
		userMeta,
		tags,
		obj.LastModified.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("putting object %q/%q: %w", obj.Bucket, obj.Key, err)
	}
	return nil
}

// GetObject retrieves object metadata by bucket and key.
func (s *SQLiteStore) GetObject(ctx context.Context, bucket, key string) (*ObjectRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT bucket, key, size, etag, content_type, content_encoding,
				content_language, content_disposition, cache_control, expires,
				storage_class, website_redirect, acl, user_metadata, tags, last_modified
		 FROM objects WHERE bucket = ? AND key = ?`,
		bucket, key,
	)

	obj, err := scanObjectRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting object %q/%q: %w", bucket, key, err)
	}
	return obj, nil
}

// DeleteObject removes object metadata by bucket and key.
func (s *SQLiteStore) DeleteObject(ctx context.Context, bucket, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM objects WHERE bucket = ? AND key = ?`,
		bucket, key,
	)
	if err != nil {
		return fmt.Errorf("deleting object %q/%q: %w", bucket, key, err)
	}
	return nil
}

// UpdateObjectAcl updates the ACL for the specified object.
func (s *SQLiteStore) UpdateObjectAcl(ctx context.Context, bucket, key string, acl json.RawMessage) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE objects SET acl = ? WHERE bucket = ? AND key = ?`,
		string(acl), bucket, key,
	)
	if err != nil {
		return fmt.Errorf("updating object ACL %q/%q: %w", bucket, key, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("object not found: %s/%s", bucket, key)
	}
	return nil
}

// UpdateObjectTags replaces the tag set of the specified object without
// touching content attributes, ETag, or LastModified.
func (s *SQLiteStore) UpdateObjectTags(ctx context.Context, bucket, key string, tags []Tag) error {
	encoded := "[]"
	if tags != nil {
		b, err := json.Marshal(tags)
		if err != nil {
			return fmt.Errorf("marshaling tags: %w", err)
		}
		encoded = string(b)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE objects SET tags = ? WHERE bucket = ? AND key = ?`,
		encoded, bucket, key,
	)
	if err != nil {
		return fmt.Errorf("updating object tags %q/%q: %w", bucket, key, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("object not found: %s/%s", bucket, key)
	}
	return nil
}

// ListObjects lists objects in the given bucket. The key set is read in a
// single ordered query, forming the snapshot the listing engine pages over.
func (s *SQLiteStore) ListObjects(ctx context.Context, bucket string, opts ListObjectsOptions) (*ListObjectsResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM objects WHERE bucket = ? ORDER BY key`,
		bucket,
	)
	if err != nil {
		return nil, fmt.Errorf("listing keys for bucket %q: %w", bucket, err)
	}

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning key row: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterating key rows: %w", err)
	}
	rows.Close()

	page := listing.Walk(keys, listing.Options{
		Prefix:    opts.Prefix,
		Delimiter: opts.Delimiter,
		Marker:    ResolveMarker(opts),
		MaxKeys:   opts.MaxKeys,
	})

	result := &ListObjectsResult{
		CommonPrefixes:        page.CommonPrefixes,
		IsTruncated:           page.IsTruncated,
		NextMarker:            page.NextMarker,
		NextContinuationToken: page.NextToken,
	}

	for _, key := range page.Keys {
		obj, err := s.GetObject(ctx, bucket, key)
		if err != nil {
			return nil, err
		}
		if obj == nil {
			// Deleted between snapshot and fetch; the snapshot contract
			// allows either outcome, skip it.
			continue
		}
		result.Objects = append(result.Objects, *obj)
	}

	return result, nil
}

// ---- Multipart upload operations ----

// CreateMultipartUpload creates a new multipart upload record and returns
// the generated upload ID.
func (s *SQLiteStore) CreateMultipartUpload(ctx context.Context, upload *MultipartUploadRecord) (string, error) {
	uploadID := upload.UploadID
	if uploadID == "" {
		uploadID = uuid.NewString()
	}

	userMeta := "{}"
	if upload.UserMetadata != nil {
		b, err := json.Marshal(upload.UserMetadata)
		if err != nil {
			return "", fmt.Errorf("marshaling user metadata: %w", err)
		}
		userMeta = string(b)
	}

	acl := "{}"
	if upload.ACL != nil {
		acl = string(upload.ACL)
	}

	contentType := upload.ContentType
	if contentType == "" {
		contentType = "binary/octet-stream"
	}

	storageClass := upload.StorageClass
	if storageClass == "" {
		storageClass = "STANDARD"
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO multipart_uploads
			(upload_id, bucket, key, content_type, content_encoding, content_language,
			 content_disposition, cache_control, expires, storage_class, website_redirect,
			 acl, user_metadata, owner_id, owner_display, initiated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uploadID,
		upload.Bucket,
		upload.Key,
		contentType,
		nullString(upload.ContentEncoding),
		nullString(upload.ContentLanguage),
		nullString(upload.ContentDisposition),
		nullString(upload.CacheControl),
		nullString(upload.Expires),
		storageClass,
		nullString(upload.WebsiteRedirectLocation),
		acl,
		userMeta,
		upload.OwnerID,
		upload.OwnerDisplay,
		upload.InitiatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return "", fmt.Errorf("creating multipart upload %q/%q: %w", upload.Bucket, upload.Key, err)
	}
	return uploadID, nil
}

// GetMultipartUpload retrieves the metadata for the specified multipart upload.
func (s *SQLiteStore) GetMultipartUpload(ctx context.Context, bucket, key, uploadID string) (*MultipartUploadRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT upload_id, bucket, key, content_type, content_encoding, content_language,
				content_disposition, cache_control, expires, storage_class, website_redirect,
				acl, user_metadata, owner_id, owner_display, initiated_at
		 FROM multipart_uploads WHERE upload_id = ? AND bucket = ? AND key = ?`,
		uploadID, bucket, key,
	)

	var u MultipartUploadRecord
	var enc, lang, disp, cache, exp, redirect sql.NullString
	var aclStr, userMetaStr, initiatedAtStr string
	err := row.Scan(&u.UploadID, &u.Bucket, &u.Key, &u.ContentType, &enc, &lang,
		&disp, &cache, &exp, &u.StorageClass, &redirect,
		&aclStr, &userMetaStr, &u.OwnerID, &u.OwnerDisplay, &initiatedAtStr)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting multipart upload %q: %w", uploadID, err)
	}

	u.ContentEncoding = enc.String
	u.ContentLanguage = lang.String
	u.ContentDisposition = disp.String
	u.CacheControl = cache.String
	u.Expires = exp.String
	u.WebsiteRedirectLocation = redirect.String
	u.ACL = json.RawMessage(aclStr)
	if userMetaStr != "" && userMetaStr != "{}" {
		if err := json.Unmarshal([]byte(userMetaStr), &u.UserMetadata); err != nil {
			return nil, fmt.Errorf("unmarshaling user metadata: %w", err)
		}
	}
	u.InitiatedAt, _ = time.Parse(timeFormat, initiatedAtStr)
	return &u, nil
}

// PutPart records metadata for an uploaded part, replacing any previous
// record for the same part number.
func (s *SQLiteStore) PutPart(ctx context.Context, part *PartRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO multipart_parts
			(upload_id, part_number, size, etag, last_modified)
		 VALUES (?, ?, ?, ?, ?)`,
		part.UploadID,
		part.PartNumber,
		part.Size,
		part.ETag,
		part.LastModified.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("putting part %d of upload %q: %w", part.PartNumber, part.UploadID, err)
	}
	return nil
}

// ListParts lists parts for the specified multipart upload.
func (s *SQLiteStore) ListParts(ctx context.Context, uploadID string, opts ListPartsOptions) (*ListPartsResult, error) {
	maxParts := opts.MaxParts
	if maxParts <= 0 {
		maxParts = 1000
	}

	// Fetch one extra row to detect truncation.
	rows, err := s.db.QueryContext(ctx,
		`SELECT upload_id, part_number, size, etag, last_modified
		 FROM multipart_parts
		 WHERE upload_id = ? AND part_number > ?
		 ORDER BY part_number
		 LIMIT ?`,
		uploadID, opts.PartNumberMarker, maxParts+1,
	)
	if err != nil {
		return nil, fmt.Errorf("listing parts for upload %q: %w", uploadID, err)
	}
	defer rows.Close()

	var parts []PartRecord
	for rows.Next() {
		var p PartRecord
		var lastModStr string
		if err := rows.Scan(&p.UploadID, &p.PartNumber, &p.Size, &p.ETag, &lastModStr); err != nil {
			return nil, fmt.Errorf("scanning part row: %w", err)
		}
		p.LastModified, _ = time.Parse(timeFormat, lastModStr)
		parts = append(parts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating part rows: %w", err)
	}

	isTruncated := len(parts) > maxParts
	if isTruncated {
		parts = parts[:maxParts]
	}

	result := &ListPartsResult{
		Parts:       parts,
		IsTruncated: isTruncated,
	}
	if isTruncated && len(parts) > 0 {
		result.NextPartNumberMarker = parts[len(parts)-1].PartNumber
	}
	return result, nil
}

// GetPartsForCompletion retrieves part records for the given part numbers.
func (s *SQLiteStore) GetPartsForCompletion(ctx context.Context, uploadID string, partNumbers []int) ([]PartRecord, error) {
	if len(partNumbers) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(partNumbers))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]interface{}, 0, len(partNumbers)+1)
	args = append(args, uploadID)
	for _, pn := range partNumbers {
		args = append(args, pn)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT upload_id, part_number, size, etag, last_modified
		 FROM multipart_parts
		 WHERE upload_id = ? AND part_number IN (`+placeholders+`)
		 ORDER BY part_number`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("getting parts for completion of upload %q: %w", uploadID, err)
	}
	defer rows.Close()

	var parts []PartRecord
	for rows.Next() {
		var p PartRecord
		var lastModStr string
		if err := rows.Scan(&p.UploadID, &p.PartNumber, &p.Size, &p.ETag, &lastModStr); err != nil {
			return nil, fmt.Errorf("scanning part row: %w", err)
		}
		p.LastModified, _ = time.Parse(timeFormat, lastModStr)
		parts = append(parts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating part rows: %w", err)
	}
	return parts, nil
}

// CompleteMultipartUpload finalizes a multipart upload in a single
// transaction: the final object row is inserted and the upload and part
// rows removed.
func (s *SQLiteStore) CompleteMultipartUpload(ctx context.Context, bucket, key, uploadID string, obj *ObjectRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning completion transaction: %w", err)
	}
	defer tx.Rollback()

	var count int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM multipart_uploads WHERE upload_id = ?`, uploadID,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking upload %q: %w", uploadID, err)
	}
	if count == 0 {
		return fmt.Errorf("upload not found: %s", uploadID)
	}

	userMeta := "{}"
	if obj.UserMetadata != nil {
		b, marshalErr := json.Marshal(obj.UserMetadata)
		if marshalErr != nil {
			return fmt.Errorf("marshaling user metadata: %w", marshalErr)
		}
		userMeta = string(b)
	}

	acl := "{}"
	if obj.ACL != nil {
		acl = string(obj.ACL)
	}

	contentType := obj.ContentType
	if contentType == "" {
		contentType = "binary/octet-stream"
	}

	storageClass := obj.StorageClass
	if storageClass == "" {
		storageClass = "STANDARD"
	}

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO objects
			(bucket, key, size, etag, content_type, content_encoding, content_language,
			 content_disposition, cache_control, expires, storage_class, website_redirect,
			 acl, user_metadata, tags, last_modified)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '[]', ?)`,
		obj.Bucket,
		obj.Key,
		obj.Size,
		obj.ETag,
		contentType,
		nullString(obj.ContentEncoding),
		nullString(obj.ContentLanguage),
		nullString(obj.ContentDisposition),
		nullString(obj.CacheControl),
		nullString(obj.Expires),
		storageClass,
		nullString(obj.WebsiteRedirectLocation),
		acl,
		userMeta,
		obj.LastModified.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting completed object %q/%q: %w", bucket, key, err)
	}

	if _, err = tx.ExecContext(ctx,
		`DELETE FROM multipart_parts WHERE upload_id = ?`, uploadID,
	); err != nil {
		return fmt.Errorf("deleting parts of upload %q: %w", uploadID, err)
	}

	if _, err = tx.ExecContext(ctx,
		`DELETE FROM multipart_uploads WHERE upload_id = ?`, uploadID,
	); err != nil {
		return fmt.Errorf("deleting upload %q: %w", uploadID, err)
	}

	return tx.Commit()
}

// AbortMultipartUpload cancels a multipart upload and removes all part rows.
func (s *SQLiteStore) AbortMultipartUpload(ctx context.Context, bucket, key, uploadID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM multipart_uploads WHERE upload_id = ? AND bucket = ? AND key = ?`,
		uploadID, bucket, key,
	)
	if err != nil {
		return fmt.Errorf("aborting upload %q: %w", uploadID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("upload not found: %s", uploadID)
	}
	// Part rows cascade with the upload row.
	return nil
}

// ListMultipartUploads lists in-progress multipart uploads for the given bucket.
func (s *SQLiteStore) ListMultipartUploads(ctx context.Context, bucket string, opts ListUploadsOptions) (*ListUploadsResult, error) {
	maxUploads := opts.MaxUploads
	if maxUploads <= 0 {
		maxUploads = 1000
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT upload_id, bucket, key, owner_id, owner_display, initiated_at
		 FROM multipart_uploads
		 WHERE bucket = ?
		 ORDER BY key, initiated_at`,
		bucket,
	)
	if err != nil {
		return nil, fmt.Errorf("listing uploads for bucket %q: %w", bucket, err)
	}
	defer rows.Close()

	var all []MultipartUploadRecord
	for rows.Next() {
		var u MultipartUploadRecord
		var initiatedAtStr string
		if err := rows.Scan(&u.UploadID, &u.Bucket, &u.Key, &u.OwnerID, &u.OwnerDisplay, &initiatedAtStr); err != nil {
			return nil, fmt.Errorf("scanning upload row: %w", err)
		}
		u.InitiatedAt, _ = time.Parse(timeFormat, initiatedAtStr)

		if opts.Prefix != "" && !strings.HasPrefix(u.Key, opts.Prefix) {
			continue
		}
		if opts.KeyMarker != "" {
			if u.Key < opts.KeyMarker {
				continue
			}
			if u.Key == opts.KeyMarker && (opts.UploadIDMarker == "" || u.UploadID <= opts.UploadIDMarker) {
				continue
			}
		}
		all = append(all, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating upload rows: %w", err)
	}

	isTruncated := len(all) > maxUploads
	if isTruncated {
		all = all[:maxUploads]
	}

	result := &ListUploadsResult{
		Uploads:     all,
		IsTruncated: isTruncated,
	}
	if isTruncated && len(all) > 0 {
		last := all[len(all)-1]
		result.NextKeyMarker = last.Key
		result.NextUploadIDMarker = last.UploadID
	}
	return result, nil
}

// ReapExpiredUploads deletes multipart uploads initiated more than ttlSeconds
// ago and returns their identifying fields for storage cleanup.
func (s *SQLiteStore) ReapExpiredUploads(ttlSeconds int) ([]ExpiredUpload, error) {
	cutoff := time.Now().UTC().Add(-time.Duration(ttlSeconds) * time.Second).Format(timeFormat)

	rows, err := s.db.Query(
		`SELECT upload_id, bucket, key FROM multipart_uploads WHERE initiated_at < ?`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("finding expired uploads: %w", err)
	}

	var expired []ExpiredUpload
	for rows.Next() {
		var e ExpiredUpload
		if err := rows.Scan(&e.UploadID, &e.BucketName, &e.ObjectKey); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning expired upload row: %w", err)
		}
		expired = append(expired, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterating expired upload rows: %w", err)
	}
	rows.Close()

	for _, e := range expired {
		if _, err := s.db.Exec(
			`DELETE FROM multipart_uploads WHERE upload_id = ?`, e.UploadID,
		); err != nil {
			return nil, fmt.Errorf("deleting expired upload %q: %w", e.UploadID, err)
		}
	}
	return expired, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanObjectRow.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanObjectRow scans a full object row into an ObjectRecord.
func scanObjectRow(row rowScanner) (*ObjectRecord, error) {
	var obj ObjectRecord
	var enc, lang, disp, cache, exp, redirect sql.NullString
	var aclStr, userMetaStr, tagsStr, lastModStr string

	err := row.Scan(&obj.Bucket, &obj.Key, &obj.Size, &obj.ETag, &obj.ContentType,
		&enc, &lang, &disp, &cache, &exp,
		&obj.StorageClass, &redirect, &aclStr, &userMetaStr, &tagsStr, &lastModStr)
	if err != nil {
		return nil, err
	}

	obj.ContentEncoding = enc.String
	obj.ContentLanguage = lang.String
	obj.ContentDisposition = disp.String
	obj.CacheControl = cache.String
	obj.Expires = exp.String
	obj.WebsiteRedirectLocation = redirect.String
	obj.ACL = json.RawMessage(aclStr)
	if userMetaStr != "" && userMetaStr != "{}" {
		if err := json.Unmarshal([]byte(userMetaStr), &obj.UserMetadata); err != nil {
			return nil, fmt.Errorf("unmarshaling user metadata: %w", err)
		}
	}
	if tagsStr != "" && tagsStr != "[]" {
		if err := json.Unmarshal([]byte(tagsStr), &obj.Tags); err != nil {
			return nil, fmt.Errorf("unmarshaling tags: %w", err)
		}
	}
	obj.LastModified, _ = time.Parse(timeFormat, lastModStr)
	return &obj, nil
}

// nullString converts an empty string to a NULL-able SQL value.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Ensure SQLiteStore implements Store at compile time.
var _ Store = (*SQLiteStore)(nil)
