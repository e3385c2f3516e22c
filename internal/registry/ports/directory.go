// Package ports names the registry's outward boundaries.
package ports

import (
	"context"

	id "notary/pkg/domain"
)

// DirectoryService is the external authority that knows who a subject is.
// The registry never calls it: subjects are stored as opaque addresses and
// resolving them to people or organisations is the reader's concern.
type DirectoryService interface {
	Resolve(ctx context.Context, subject id.Address) (DirectoryEntry, error)
}

// DirectoryEntry is what a directory returns for a subject.
type DirectoryEntry struct {
	Subject     id.Address
	DisplayName string
}
