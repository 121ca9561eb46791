// Package ehentai is the client of the content host. It fetches gallery
// metadata through the JSON API, scrapes gallery, multi-page viewer and
// single page HTML for page lists and image locations, and downloads images.
//
// Requests to the host share one cookie jar header and back off for ten
// seconds after the host answers 429.
package ehentai
