package meili

import "github.com/phrazzld/eharchive/internal/domain"

// TagDocument is a tag embedded in a gallery document.
type TagDocument struct {
	ID         int64  `json:"id"`
	Tag        string `json:"tag"`
	Translated string `json:"translated,omitempty"`
	Intro      string `json:"intro,omitempty"`
}

// Document is the indexed form of a gallery: its catalog row plus its tags.
type Document struct {
	domain.GMeta
	Tags []TagDocument `json:"tags"`
}

// NewDocument builds the document of g carrying tags.
func NewDocument(g domain.GMeta, tags []domain.Tag) Document {
	doc := Document{GMeta: g, Tags: make([]TagDocument, 0, len(tags))}
	for _, t := range tags {
		doc.Tags = append(doc.Tags, TagDocument(t))
	}
	return doc
}
