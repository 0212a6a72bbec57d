package storage

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/veilkey/capability-backend/interfaces"
)

// BackendFactory creates blob backends from location URIs and assembles
// multi-backend configurations for redundant archival.
type BackendFactory struct {
	log *slog.Logger
}

// NewBackendFactory creates a factory.
func NewBackendFactory(logger *slog.Logger) *BackendFactory {
	return &BackendFactory{log: logger}
}

// BlobBackendFor creates a blob backend for a parsed location URI.
func (f *BackendFactory) BlobBackendFor(location interfaces.BlobBackendLocation) (interfaces.BlobBackend, error) {
	switch strings.ToLower(location.Scheme) {
	case "file":
		return f.createFileBackend(location)
	case "memory":
		return NewMemoryBackend(f.log), nil
	case "s3":
		return f.createS3Backend(location)
	case "ipfs":
		return f.createIPFSBackend(location)
	case "vault":
		return f.createVaultBackend(location)
	default:
		return nil, fmt.Errorf("%w: unsupported backend scheme %q", interfaces.ErrInvalidLocationURI, location.Scheme)
	}
}

// CreateMultiBackend creates a replicating backend from a list of locations.
// Locations that fail to construct are skipped with a warning; at least one
// backend must come up.
func (f *BackendFactory) CreateMultiBackend(locations []interfaces.BlobBackendLocation) (interfaces.BlobBackend, error) {
	backends := make([]interfaces.BlobBackend, 0, len(locations))

	for _, location := range locations {
		backend, err := f.BlobBackendFor(location)
		if err != nil {
			f.log.Warn("Failed to create blob backend",
				"err", err,
				slog.String("location", location.String()))
			continue
		}
		backends = append(backends, backend)
	}

	if len(backends) == 0 {
		return nil, fmt.Errorf("no valid blob backends created")
	}

	return NewMultiBackend(backends, f.log), nil
}

// createFileBackend handles file:///absolute/path and file://host/path
// forms.
func (f *BackendFactory) createFileBackend(location interfaces.BlobBackendLocation) (interfaces.BlobBackend, error) {
	path := location.Path
	if location.Host != "" {
		path = location.Host + "/" + strings.TrimPrefix(path, "/")
	}
	if path == "" {
		return nil, fmt.Errorf("%w: empty path in file URI %q", interfaces.ErrInvalidLocationURI, location.Raw)
	}
	return NewFileBackend(path, f.log)
}

// createS3Backend handles
// s3://[ACCESS:SECRET@]bucket/prefix/?region=...&endpoint=... forms.
func (f *BackendFactory) createS3Backend(location interfaces.BlobBackendLocation) (interfaces.BlobBackend, error) {
	bucketName := location.Host
	prefix := strings.TrimPrefix(location.Path, "/")

	region := location.GetParam("region")
	if region == "" {
		region = "us-east-1"
	}
	endpoint := location.GetParam("endpoint")

	var accessKey, secretKey string
	if location.Auth != "" {
		parts := strings.SplitN(location.Auth, ":", 2)
		accessKey = parts[0]
		if len(parts) == 2 {
			secretKey = parts[1]
		}
	}

	return NewS3Backend(bucketName, prefix, region, endpoint, accessKey, secretKey, f.log)
}

// createIPFSBackend handles ipfs://host:port/?timeout=30s forms.
func (f *BackendFactory) createIPFSBackend(location interfaces.BlobBackendLocation) (interfaces.BlobBackend, error) {
	host := location.Host
	port := "5001"
	if idx := strings.LastIndex(location.Host, ":"); idx != -1 {
		host = location.Host[:idx]
		port = location.Host[idx+1:]
	}

	timeout := location.GetParam("timeout")
	if timeout == "" {
		timeout = "30s"
	}

	return NewIPFSBackend(host, port, timeout, f.log)
}

// createVaultBackend handles vault://host:port/mount/path?token=... forms.
func (f *BackendFactory) createVaultBackend(location interfaces.BlobBackendLocation) (interfaces.BlobBackend, error) {
	token := location.GetParam("token")
	if token == "" {
		return nil, fmt.Errorf("%w: vault URI needs a token parameter", interfaces.ErrInvalidLocationURI)
	}

	scheme := "https"
	if location.GetParamBool("insecure") {
		scheme = "http"
	}
	address := fmt.Sprintf("%s://%s", scheme, location.Host)

	parts := strings.SplitN(strings.Trim(location.Path, "/"), "/", 2)
	if len(parts) == 0 || parts[0] == "" {
		return nil, fmt.Errorf("%w: vault URI needs a mount path", interfaces.ErrInvalidLocationURI)
	}
	mountPath := parts[0]
	dataPath := "archive"
	if len(parts) == 2 && parts[1] != "" {
		dataPath = parts[1]
	}

	return NewVaultBackend(address, mountPath, dataPath, token, f.log)
}
