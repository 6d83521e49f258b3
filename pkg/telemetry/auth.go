// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package telemetry

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mculab/acqd/pkg/log"
)

// BearerAuth validates a control-API request's "Authorization: Bearer
// <token>" header against a single shared HMAC key. There is no user
// directory behind it (spec.md §6 notes project configuration is opaque
// to the core) — it exists only to keep a misconfigured or unauthenticated
// GUI client from issuing START/STOP or settings changes.
type BearerAuth struct {
	key []byte
}

// NewBearerAuth returns an authenticator validating tokens signed with
// key via HS256.
func NewBearerAuth(key []byte) *BearerAuth {
	return &BearerAuth{key: key}
}

// Middleware rejects any request whose bearer token does not parse and
// validate against the configured key, responding 401 and never calling
// next.
func (a *BearerAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if raw == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}

		token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrTokenSignatureInvalid
			}
			return a.key, nil
		})
		if err != nil || !token.Valid {
			log.Warnf("telemetry: rejecting request to %s: invalid bearer token: %v", r.URL.Path, err)
			http.Error(w, "invalid bearer token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}
