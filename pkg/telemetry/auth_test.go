// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package telemetry

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, key []byte, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return s
}

// TestBearerAuthRejectsMissingToken covers testable property 12: a
// mutating request without a bearer token must never reach the handler.
func TestBearerAuthRejectsMissingToken(t *testing.T) {
	key := []byte("secret")
	a := NewBearerAuth(key)

	called := false
	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodPut, "/viewer/state", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rr.Code)
	}
	if called {
		t.Error("handler was called despite missing bearer token")
	}
}

func TestBearerAuthRejectsBadSignature(t *testing.T) {
	a := NewBearerAuth([]byte("secret"))
	wrongKeyToken := signToken(t, []byte("wrong-secret"), jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})

	called := false
	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodPut, "/viewer/state", nil)
	req.Header.Set("Authorization", "Bearer "+wrongKeyToken)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rr.Code)
	}
	if called {
		t.Error("handler was called despite a signature mismatch")
	}
}

func TestBearerAuthAcceptsValidToken(t *testing.T) {
	key := []byte("secret")
	a := NewBearerAuth(key)
	token := signToken(t, key, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})

	called := false
	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPut, "/viewer/state", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rr.Code)
	}
	if !called {
		t.Error("handler was not called despite a valid token")
	}
}
