// Package attachment moves uploaded files into blob storage and resolves
// stored objects back to fetchable URLs.
package attachment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"avatarstudio/api/internal/failure"
)

// Purpose selects the upload policy and the key namespace.
type Purpose string

const (
	PurposeKnowledge   Purpose = "knowledge"
	PurposeAvatarImage Purpose = "avatar-image"
	PurposeUserPicture Purpose = "user-picture"
)

const (
	MB = 1 << 20

	MaxDocumentBytes    = 50 * MB
	MaxAvatarImageBytes = 50 * MB
	MaxUserPictureBytes = 5 * MB
)

// ErrObjectNotFound is returned by Blobs implementations when the object
// does not exist.
var ErrObjectNotFound = errors.New("object not found")

// Blobs is the blob storage service the store writes through.
type Blobs interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	PublicURL(key string) (string, error)
	Delete(ctx context.Context, key string) error
}

// Policy restricts what may be uploaded for a purpose. An AllowedTypes entry
// ending in "/" is a prefix match ("image/").
type Policy struct {
	AllowedTypes []string
	MaxBytes     int64
}

func (p Policy) allows(contentType string) bool {
	for _, allowed := range p.AllowedTypes {
		if strings.HasSuffix(allowed, "/") {
			if strings.HasPrefix(contentType, allowed) {
				return true
			}
			continue
		}
		if contentType == allowed {
			return true
		}
	}
	return false
}

// DefaultPolicies returns the upload rules per purpose.
func DefaultPolicies() map[Purpose]Policy {
	return map[Purpose]Policy{
		PurposeKnowledge:   {AllowedTypes: []string{"application/pdf"}, MaxBytes: MaxDocumentBytes},
		PurposeAvatarImage: {AllowedTypes: []string{"image/"}, MaxBytes: MaxAvatarImageBytes},
		PurposeUserPicture: {AllowedTypes: []string{"image/"}, MaxBytes: MaxUserPictureBytes},
	}
}

// File is an upload candidate held in memory.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

func (f File) Size() int64 {
	return int64(len(f.Data))
}

// Stored describes an object written by Upload. Ref is the opaque storage
// reference (the object key).
type Stored struct {
	Ref         string
	URL         string
	Name        string
	ContentType string
	SizeBytes   int64
	UploadedAt  time.Time
}

type Store struct {
	blobs    Blobs
	policies map[Purpose]Policy
	now      func() time.Time
	suffix   func() string
}

func NewStore(blobs Blobs, policies map[Purpose]Policy) *Store {
	if policies == nil {
		policies = DefaultPolicies()
	}
	return &Store{
		blobs:    blobs,
		policies: policies,
		now:      time.Now,
		suffix: func() string {
			return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
		},
	}
}

// Validate checks a file against the purpose's policy without storing it.
func (s *Store) Validate(purpose Purpose, file File) error {
	policy, ok := s.policies[purpose]
	if !ok {
		return failure.UploadRejected("attachment.validate", fmt.Sprintf("unknown upload purpose %q", purpose))
	}
	if strings.TrimSpace(file.Name) == "" {
		return failure.UploadRejected("attachment.validate", "file name is required")
	}
	if file.Size() == 0 {
		return failure.UploadRejected("attachment.validate", "file is empty", "size")
	}
	if file.Size() > policy.MaxBytes {
		return failure.UploadRejected("attachment.validate",
			fmt.Sprintf("file %q is %s, exceeds the %s limit", file.Name, humanSize(file.Size()), humanSize(policy.MaxBytes)), "size")
	}

	declared := baseType(file.ContentType)
	if declared == "" {
		declared = "application/octet-stream"
	}
	if !policy.allows(declared) {
		return failure.UploadRejected("attachment.validate",
			fmt.Sprintf("content type %s is not allowed, expected %s", declared, strings.Join(policy.AllowedTypes, " or ")), "contentType")
	}
	sniffed := mimetype.Detect(file.Data)
	if !policy.allows(baseType(sniffed.String())) {
		return failure.UploadRejected("attachment.validate",
			fmt.Sprintf("file content looks like %s, not %s", sniffed.String(), declared), "contentType")
	}
	return nil
}

// Upload validates file and writes it under a key namespaced by owner,
// scope (profile id or purpose) and purpose.
func (s *Store) Upload(ctx context.Context, purpose Purpose, file File, ownerID, scopeID string) (Stored, error) {
	if err := s.Validate(purpose, file); err != nil {
		return Stored{}, err
	}
	if strings.TrimSpace(ownerID) == "" {
		return Stored{}, failure.Validation("attachment.upload", "owner is required", "ownerId")
	}
	if strings.TrimSpace(scopeID) == "" {
		scopeID = string(purpose)
	}

	uploadedAt := s.now().UTC()
	key := s.objectKey(purpose, file.Name, ownerID, scopeID, uploadedAt)
	contentType := baseType(file.ContentType)
	if err := s.blobs.Put(ctx, key, bytes.NewReader(file.Data), file.Size(), contentType); err != nil {
		return Stored{}, failure.Persistence("attachment.upload", err)
	}

	url, err := s.blobs.PublicURL(key)
	if err != nil {
		return Stored{}, failure.Persistence("attachment.upload", err)
	}
	return Stored{
		Ref:         key,
		URL:         url,
		Name:        file.Name,
		ContentType: contentType,
		SizeBytes:   file.Size(),
		UploadedAt:  uploadedAt,
	}, nil
}

// ResolveURL returns a fetchable URL for ref. It has no side effects.
func (s *Store) ResolveURL(ref string) (string, error) {
	if strings.TrimSpace(ref) == "" {
		return "", failure.NotAvailable("attachment.resolve", "document has no stored object")
	}
	url, err := s.blobs.PublicURL(ref)
	if err != nil {
		return "", failure.Persistence("attachment.resolve", err)
	}
	return url, nil
}

// Remove deletes the object behind ref. A missing object counts as removed.
func (s *Store) Remove(ctx context.Context, ref string) error {
	if strings.TrimSpace(ref) == "" {
		return nil
	}
	err := s.blobs.Delete(ctx, ref)
	if errors.Is(err, ErrObjectNotFound) {
		log.Printf("attachment: remove %s: object already gone, nothing to do", ref)
		return nil
	}
	if err != nil {
		return failure.Persistence("attachment.remove", err)
	}
	return nil
}

func (s *Store) objectKey(purpose Purpose, name, ownerID, scopeID string, at time.Time) string {
	file := fmt.Sprintf("%d-%s-%s", at.UnixMilli(), s.suffix(), sanitizeName(name))
	return path.Join(sanitizeSegment(ownerID), sanitizeSegment(scopeID), string(purpose), file)
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func sanitizeName(name string) string {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(name), `\`, "/"))
	cleaned := strings.Trim(unsafeChars.ReplaceAllString(base, "_"), "._")
	if cleaned == "" {
		return "file"
	}
	if len(cleaned) > 120 {
		cleaned = cleaned[len(cleaned)-120:]
	}
	return cleaned
}

func sanitizeSegment(value string) string {
	cleaned := strings.Trim(unsafeChars.ReplaceAllString(strings.TrimSpace(value), "_"), "._")
	if cleaned == "" {
		return "_"
	}
	return cleaned
}

func baseType(contentType string) string {
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}

func humanSize(n int64) string {
	if n >= MB {
		return fmt.Sprintf("%d MB", n/MB)
	}
	if n >= 1<<10 {
		return fmt.Sprintf("%d KB", n/(1<<10))
	}
	return fmt.Sprintf("%d bytes", n)
}
