// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package services

import (
	"testing"

	"github.com/noldarim/codeforge/internal/orchestrator/database"
)

// DataServiceFixture represents a data service setup with cleanup
type DataServiceFixture struct {
	Service *DataService
	Cleanup func()
}

// WithDataService creates a data service over a fresh in-memory database.
func WithDataService(t testing.TB) *DataServiceFixture {
	t.Helper()
	db := database.UseFreshInMemoryDatabase(t)
	ds := NewDataServiceWithDB(db.DB)

	return &DataServiceFixture{
		Service: ds,
		Cleanup: db.Cleanup,
	}
}
