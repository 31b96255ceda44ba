package httpx

import "net/http"

// Status codes the console backend and its clients exchange.
const (
	StatusOK            = http.StatusOK
	StatusCreated       = http.StatusCreated
	StatusBadRequest    = http.StatusBadRequest
	StatusUnauthorized  = http.StatusUnauthorized
	StatusNotFound      = http.StatusNotFound
	StatusInternalError = http.StatusInternalServerError
)
