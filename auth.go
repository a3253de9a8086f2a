// Copyright (C) 2025 Thinline Dynamic Solutions
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>

package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

type contextKey string

const userContextKey contextKey = "user"

// ParseOptionalIdentity resolves the caller's identity from a bearer
// token. Authentication is optional and non-blocking: an absent or
// invalid token yields the guest identity, never a rejection. Token
// issuance happens elsewhere; only HMAC verification is done here.
func ParseOptionalIdentity(authorization string, secret string) UserRef {
	if secret == "" || authorization == "" {
		return Guest
	}

	tokenString, ok := strings.CutPrefix(authorization, "Bearer ")
	if !ok {
		return Guest
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return Guest
	}

	for _, key := range []string{"userId", "sub"} {
		if id, ok := claims[key].(string); ok && id != "" {
			return UserRef{Id: id, Valid: true}
		}
	}

	return Guest
}

// authenticate attaches the optional identity to the request context.
func (controller *Controller) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := ParseOptionalIdentity(r.Header.Get("Authorization"), controller.Config.JwtSecret)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userContextKey, owner)))
	})
}

func userFromRequest(r *http.Request) UserRef {
	if owner, ok := r.Context().Value(userContextKey).(UserRef); ok {
		return owner
	}
	return Guest
}
