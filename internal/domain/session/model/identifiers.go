// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import "github.com/google/uuid"

// NewID returns a fresh session identifier.
func NewID() string {
	return uuid.NewString()
}

// IsSafeSessionID returns true if the ID is a canonical UUID and therefore
// safe to embed in file names and URLs.
func IsSafeSessionID(id string) bool {
	if len(id) != 36 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}
