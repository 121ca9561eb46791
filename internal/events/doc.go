// Package events carries gallery change notifications from executors to
// whoever keeps derived data in sync, such as the search index.
//
// It is separate from the task event bus: executors emit a
// GalleryEvent when they add, refresh or remove a gallery, and handlers
// registered on an EventEmitter react to it without the executors knowing
// about them.
package events
