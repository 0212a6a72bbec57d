package interfaces

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ContentID is a 32-byte SHA-256 hash uniquely identifying an archived blob.
type ContentID [32]byte

// NewContentIDFromBytes creates a content ID from raw bytes.
func NewContentIDFromBytes(source []byte) (ContentID, error) {
	if len(source) != 32 {
		return ContentID{}, errors.New("invalid ContentID conversion from bytes: incorrect length")
	}

	var hash [32]byte
	copy(hash[:], source)
	return ContentID(hash), nil
}

// NewContentIDFromHex creates a content ID from a hex string.
func NewContentIDFromHex(source string) (ContentID, error) {
	clean := strings.TrimPrefix(source, "0x")
	if len(clean) != 64 {
		return ContentID{}, errors.New("invalid content ID length: hex string must be 64 characters")
	}

	hashBytes, err := hex.DecodeString(clean)
	if err != nil {
		return ContentID{}, fmt.Errorf("invalid hex format: %w", err)
	}

	var hash [32]byte
	copy(hash[:], hashBytes)
	return ContentID(hash), nil
}

// ComputeID calculates the content ID of data.
func ComputeID(data []byte) ContentID {
	hash := sha256.Sum256(data)
	return ContentID(hash)
}

// String returns the hex representation.
func (id ContentID) String() string {
	return hex.EncodeToString(id[:])
}

// Bytes returns the raw 32-byte hash.
func (id ContentID) Bytes() []byte {
	return id[:]
}

// Equal compares two content IDs.
func (id ContentID) Equal(other ContentID) bool {
	return bytes.Equal(id[:], other[:])
}

// ContentType indicates the archive namespace.
type ContentType int

const (
	// LedgerArchiveType for sealed ledger batches.
	LedgerArchiveType ContentType = iota
	// SnapshotType for sealed store snapshots.
	SnapshotType
)

// String returns the type name.
func (ct ContentType) String() string {
	switch ct {
	case LedgerArchiveType:
		return "ledger"
	case SnapshotType:
		return "snapshot"
	default:
		return "unknown"
	}
}

// BlobBackendLocation represents a URI for a blob backend.
type BlobBackendLocation struct {
	Raw    string     // Original URI
	Scheme string     // Protocol
	Host   string     // Hostname
	Path   string     // Resource path
	Query  url.Values // Query parameters
	Auth   string     // Authentication info
}

// NewBlobBackendLocation creates a blob backend location from a URI string
// with validation.
func NewBlobBackendLocation(uri string) (BlobBackendLocation, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return BlobBackendLocation{}, fmt.Errorf("%w: %v", ErrInvalidLocationURI, err)
	}

	scheme := parsed.Scheme
	switch scheme {
	case "file", "memory", "s3", "ipfs", "vault":
		// Valid scheme
	default:
		return BlobBackendLocation{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidLocationURI, scheme)
	}

	var auth string
	if parsed.User != nil {
		auth = parsed.User.String()
	}

	return BlobBackendLocation{
		Raw:    uri,
		Scheme: scheme,
		Host:   parsed.Host,
		Path:   parsed.Path,
		Query:  parsed.Query(),
		Auth:   auth,
	}, nil
}

// String returns the original URI string.
func (loc BlobBackendLocation) String() string {
	return loc.Raw
}

// GetParam returns a query parameter value.
func (loc BlobBackendLocation) GetParam(name string) string {
	return loc.Query.Get(name)
}

// GetParamBool returns a boolean query parameter value.
func (loc BlobBackendLocation) GetParamBool(name string) bool {
	value := loc.Query.Get(name)
	return value == "true" || value == "1" || value == "yes"
}

var (
	// ErrContentNotFound is returned when requested content cannot be found
	// in the blob backend.
	ErrContentNotFound = errors.New("content not found")

	// ErrBackendUnavailable is returned when a blob backend is not
	// accessible, whether due to network issues, authentication failures or
	// service outages.
	ErrBackendUnavailable = errors.New("blob backend unavailable")

	// ErrInvalidLocationURI is returned when a blob backend location URI is
	// malformed or unsupported. URIs follow the format
	// [scheme]://[auth@]host[:port][/path][?params].
	ErrInvalidLocationURI = errors.New("invalid blob backend location URI")
)

// BlobBackend provides content-addressed, append-only blob storage for
// sealed ledger batches and snapshots. The engine only ever hands it opaque
// ciphertext.
type BlobBackend interface {
	// Fetch retrieves data by content ID and type.
	Fetch(ctx context.Context, id ContentID, contentType ContentType) ([]byte, error)

	// Store saves data and returns its content ID.
	Store(ctx context.Context, data []byte, contentType ContentType) (ContentID, error)

	// Available checks if the backend is accessible.
	Available(ctx context.Context) bool

	// Name returns an identifier for logging.
	Name() string

	// LocationURI returns the URI identifying this backend.
	LocationURI() string
}

// BlobBackendFactory creates blob backends.
type BlobBackendFactory interface {
	// BlobBackendFor creates a backend from a URI.
	// Supports file://, memory://, s3://, ipfs://, vault://
	BlobBackendFor(location BlobBackendLocation) (BlobBackend, error)

	// CreateMultiBackend creates an aggregated, replicating backend.
	CreateMultiBackend(locations []BlobBackendLocation) (BlobBackend, error)
}
