package api

import (
	"net/http"

	"github.com/phrazzld/eharchive/internal/api/shared"
	"github.com/phrazzld/eharchive/internal/domain"
)

// decodeRequest decodes and validates a JSON body into v. It writes the
// error response itself and reports whether the handler may continue.
func decodeRequest(w http.ResponseWriter, r *http.Request, v any) bool {
	return validateDecoded(w, r, v, shared.DecodeJSON(r, v))
}

// decodeOptionalRequest is decodeRequest for bodies that may be empty.
func decodeOptionalRequest(w http.ResponseWriter, r *http.Request, v any) bool {
	return validateDecoded(w, r, v, shared.DecodeOptionalJSON(r, v))
}

func validateDecoded(w http.ResponseWriter, r *http.Request, v any, decodeErr error) bool {
	if decodeErr != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, StatusInvalidBody, "Invalid request format")
		return false
	}
	if err := shared.ValidateRequest(v); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, StatusInvalidBody, SanitizeValidationError(err))
		return false
	}
	return true
}

// resolveGallery returns the gallery a request names. A link takes
// precedence over an explicit gid and token.
func resolveGallery(w http.ResponseWriter, r *http.Request, req GalleryRequest) (int64, string, bool) {
	if req.URL != "" {
		u, err := domain.ParseURL(req.URL)
		if err != nil {
			shared.RespondWithError(w, r, http.StatusBadRequest, StatusMissingGallery, "url is not a gallery link")
			return 0, "", false
		}
		if u.Type == domain.URLTypeSingle {
			shared.RespondWithError(w, r, http.StatusBadRequest, StatusMissingGallery, "single page links are not supported")
			return 0, "", false
		}
		return u.GID, u.Token, true
	}
	if req.GID <= 0 {
		shared.RespondWithError(w, r, http.StatusBadRequest, StatusMissingGallery, "gid is required")
		return 0, "", false
	}
	if req.Token == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, StatusMissingToken, "token is required")
		return 0, "", false
	}
	return req.GID, req.Token, true
}
