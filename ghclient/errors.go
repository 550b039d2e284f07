package ghclient

import (
	"errors"
	"net/http"
)

var (
	// ErrSigning means no request was attempted: an assertion could not be minted.
	ErrSigning = errors.New("could not mint app assertion")
	// ErrBuild means the outbound request could not be constructed.
	ErrBuild = errors.New("could not build upstream request")
	// ErrTransport means the request failed on the network, or the response body could not be read.
	ErrTransport = errors.New("upstream request failed")
	// ErrUpstreamParse means upstream replied with something other than JSON.
	ErrUpstreamParse = errors.New("upstream response was not valid JSON")
	// ErrBadRequest is a caller input error, detected before any upstream work.
	ErrBadRequest = errors.New("bad request")
)

// StatusCode maps an error returned by Client to the HTTP status reported
// to the caller of the service.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
