// Package remote defines the contract with the rate-limited remote asset
// API: the client interface, error classification, and call pacing.
// The concrete network client lives in the quicksight subpackage; the sync
// engine only ever sees this interface.
package remote

import (
	"context"

	"github.com/sightsync/sightsync/internal/asset"
)

// Page is one page of a paginated listing.
type Page struct {
	Items     []asset.Summary
	NextToken *string
}

// Client is the remote API collaborator.
type Client interface {
	// ListPage fetches one page of summaries for a kind. A nil token
	// requests the first page; a nil NextToken in the result ends the
	// pagination.
	ListPage(ctx context.Context, kind asset.Kind, token *string) (Page, error)

	// ListDataSources enumerates all data sources in one shot. Data sources
	// bypass ListPage: the paginated listing call trips a deserialization
	// defect in the primary client, so they go through a dedicated path.
	ListDataSources(ctx context.Context) ([]asset.Summary, error)

	// Describe fetches the full definition of one asset.
	Describe(ctx context.Context, kind asset.Kind, id string) (asset.Detail, error)

	// GetPermissions fetches the resource permissions of one asset.
	GetPermissions(ctx context.Context, kind asset.Kind, id string) ([]asset.Permission, error)

	// GetTags fetches the tags of one asset.
	GetTags(ctx context.Context, kind asset.Kind, id string) ([]asset.Tag, error)
}
