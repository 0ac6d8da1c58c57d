//go:build integration

// Package testdb provides helpers for running job store tests against a
// real PostgreSQL database.
//
// Tests using this package are compiled only with the integration build tag
// and skip themselves when no database URL is configured:
//
//	func TestJobStorePostgres(t *testing.T) {
//	    db := testdb.GetTestDBWithT(t)
//	    s := sqlstore.NewJobStore(db)
//	    ...
//	}
//
// # Environment Variables
//
// - XIUTU_TEST_DB_URL: preferred connection string
// - DATABASE_URL: fallback connection string
//
// GetTestDBWithT applies the embedded migrations and truncates the jobs
// table before and after each test, so tests using it must not run in
// parallel.
package testdb
