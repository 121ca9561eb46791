package ehentai

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/phrazzld/eharchive/internal/domain"
)

// TagTranslationURL is the published release of the EhTagTranslation database.
const TagTranslationURL = "https://github.com/EhTagTranslation/DatabaseReleases/raw/master/db.text.json"

type translationEntry struct {
	Name  string `json:"name"`
	Intro string `json:"intro"`
}

type translationNamespace struct {
	Namespace string                      `json:"namespace"`
	Count     int                         `json:"count"`
	Data      map[string]translationEntry `json:"data"`
}

// TranslationDB is the decoded tag translation database.
type TranslationDB struct {
	Version int                    `json:"version"`
	Head    json.RawMessage        `json:"head,omitempty"`
	Data    []translationNamespace `json:"data"`
}

// Count is the number of translated tags across all namespaces.
func (db *TranslationDB) Count() int {
	n := 0
	for _, ns := range db.Data {
		n += len(ns.Data)
	}
	return n
}

// Tags flattens the database into namespace:name tags.
func (db *TranslationDB) Tags() []domain.Tag {
	tags := make([]domain.Tag, 0, db.Count())
	for _, ns := range db.Data {
		names := make([]string, 0, len(ns.Data))
		for name := range ns.Data {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			e := ns.Data[name]
			tags = append(tags, domain.Tag{Tag: ns.Namespace + ":" + name, Translated: e.Name, Intro: e.Intro})
		}
	}
	return tags
}

// ParseTranslationDB decodes a db.text.json document.
func ParseTranslationDB(data []byte) (*TranslationDB, error) {
	var db TranslationDB
	if err := json.Unmarshal(data, &db); err != nil {
		return nil, fmt.Errorf("%w: tag translation database: %v", ErrParse, err)
	}
	return &db, nil
}

// LoadTranslationFile reads the database from a local file.
func LoadTranslationFile(path string) (*TranslationDB, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tag translation file: %w", err)
	}
	return ParseTranslationDB(data)
}

// FetchTranslationDB downloads the database from rawURL, or from
// TagTranslationURL when rawURL is empty.
func (c *Client) FetchTranslationDB(ctx context.Context, rawURL string) (*TranslationDB, error) {
	if rawURL == "" {
		rawURL = TagTranslationURL
	}
	body, err := c.getText(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return ParseTranslationDB([]byte(body))
}
