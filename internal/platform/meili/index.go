package meili

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/meilisearch/meilisearch-go"
)

// IndexUID is the index holding one document per gallery.
const IndexUID = "gmeta"

// PrimaryKey is the document field identifying a gallery.
const PrimaryKey = "gid"

var (
	searchableAttributes = []string{"title", "title_jpn", "uploader", "tags.tag", "tags.translated"}
	sortableAttributes   = []string{"filecount", "filesize", "gid", "posted", "rating"}
)

// Index is the subset of a search index the syncer needs.
type Index interface {
	// Ensure creates the index when missing and applies its settings.
	Ensure(ctx context.Context) error

	// UpdateDocuments adds or replaces documents by primary key.
	UpdateDocuments(ctx context.Context, docs []Document) error

	// DeleteDocument removes the document of gid. Missing documents are not an error.
	DeleteDocument(ctx context.Context, gid int64) error
}

// Client is an Index backed by a MeiliSearch server. Every write waits for
// the server-side task to complete and fails when the task fails.
type Client struct {
	sm           meilisearch.ServiceManager
	pollInterval time.Duration
}

var _ Index = (*Client)(nil)

// NewClient connects to the server at host.
func NewClient(host, apiKey string) *Client {
	var opts []meilisearch.Option
	if apiKey != "" {
		opts = append(opts, meilisearch.WithAPIKey(apiKey))
	}
	return &Client{
		sm:           meilisearch.New(host, opts...),
		pollInterval: 100 * time.Millisecond,
	}
}

func (c *Client) Ensure(ctx context.Context) error {
	if _, err := c.sm.GetIndexWithContext(ctx, IndexUID); err != nil {
		if !isNotFound(err) {
			return fmt.Errorf("get index %s: %w", IndexUID, err)
		}
		info, err := c.sm.CreateIndexWithContext(ctx, &meilisearch.IndexConfig{
			Uid:        IndexUID,
			PrimaryKey: PrimaryKey,
		})
		if err != nil {
			return fmt.Errorf("create index %s: %w", IndexUID, err)
		}
		if err := c.wait(ctx, info); err != nil {
			return fmt.Errorf("create index %s: %w", IndexUID, err)
		}
	}

	info, err := c.sm.Index(IndexUID).UpdateSettingsWithContext(ctx, &meilisearch.Settings{
		DisplayedAttributes:  []string{"*"},
		SearchableAttributes: searchableAttributes,
		SortableAttributes:   sortableAttributes,
	})
	if err != nil {
		return fmt.Errorf("update settings of %s: %w", IndexUID, err)
	}
	return c.wait(ctx, info)
}

func (c *Client) UpdateDocuments(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	info, err := c.sm.Index(IndexUID).UpdateDocumentsWithContext(ctx, docs)
	if err != nil {
		return fmt.Errorf("update documents: %w", err)
	}
	return c.wait(ctx, info)
}

func (c *Client) DeleteDocument(ctx context.Context, gid int64) error {
	info, err := c.sm.Index(IndexUID).DeleteDocumentWithContext(ctx, strconv.FormatInt(gid, 10))
	if err != nil {
		return fmt.Errorf("delete document %d: %w", gid, err)
	}
	return c.wait(ctx, info)
}

func (c *Client) wait(ctx context.Context, info *meilisearch.TaskInfo) error {
	task, err := c.sm.WaitForTaskWithContext(ctx, info.TaskUID, c.pollInterval)
	if err != nil {
		return fmt.Errorf("wait for task %d: %w", info.TaskUID, err)
	}
	if task.Status == meilisearch.TaskStatusFailed {
		return fmt.Errorf("task %d failed: %s", info.TaskUID, task.Error.Message)
	}
	return nil
}

func isNotFound(err error) bool {
	var apiErr *meilisearch.Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
