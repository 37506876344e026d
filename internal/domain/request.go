package domain

import "strings"

// CatalogRequest holds the parameters of one catalog run.
type CatalogRequest struct {
	Project         string `json:"project"`
	Bucket          string `json:"bucket"`
	Key             string `json:"key"`
	CollectionID    string `json:"collection_id,omitempty"`
	CollectionTitle string `json:"collection_title,omitempty"`
	DryRun          bool   `json:"dry_run,omitempty"`
}

// Locator returns the archive the request points at.
func (r CatalogRequest) Locator() ArchiveLocator {
	return ArchiveLocator{Bucket: r.Bucket, Key: strings.TrimPrefix(r.Key, "/")}
}

// Validate checks the request parameters.
func (r CatalogRequest) Validate() error {
	if strings.TrimSpace(r.Project) == "" {
		return &ValidationError{
			Field:      "project",
			Value:      r.Project,
			Constraint: "non-empty",
			Message:    "project name is required",
		}
	}
	if strings.ContainsAny(r.CollectionID, `/\`) {
		return &ValidationError{
			Field:      "collection_id",
			Value:      r.CollectionID,
			Constraint: "no path separators",
			Message:    "collection id must be a single path segment",
		}
	}
	return r.Locator().Validate()
}

// CatalogResult lists the keys of the records a catalog run wrote.
type CatalogResult struct {
	Collection  string   `json:"collection"`
	ItemResults []string `json:"item_results"`

	// Records is the built collection including its items. Dry runs return
	// it without writing anything.
	Records *Collection `json:"-"`
}
