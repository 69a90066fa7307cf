package sqlite

import (
	"testing"

	"github.com/banshee-data/sightline.report/internal/db"
	"github.com/banshee-data/sightline.report/internal/testutil"
)

func setupTestDB(t *testing.T) *db.DB {
	t.Helper()
	return testutil.NewTestDB(t)
}
