/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package httpapi

import (
	"net/http"
	"strings"
)

// maxBodyBytes bounds a JSON request body (1 MiB).
const maxBodyBytes int64 = 1 << 20

// maxUploadBytes bounds a multipart request body, large enough for a
// kubeconfig blob plus a generous inspection-item import dump (8 MiB).
const maxUploadBytes int64 = 8 << 20

// maxBodySizeMiddleware limits POST/PUT/PATCH request bodies. Multipart
// requests (kubeconfig upload, item import) get the larger upload limit;
// everything else is assumed JSON and gets the tighter one.
//
// Requests with Content-Length explicitly exceeding the limit are rejected
// immediately with a 400 validation error. All write requests also have their body
// wrapped with http.MaxBytesReader as a safety net against chunked or
// unannounced oversized payloads.
func maxBodySizeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			limit := maxBodyBytes
			if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
				limit = maxUploadBytes
			}
			if r.ContentLength > limit {
				writeJSONError(w, ValidationError, "request body too large")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, limit)
		}
		next.ServeHTTP(w, r)
	})
}
