// Package postgres implements store.Store on PostgreSQL using pgx/v5 with
// raw SQL.
//
// ClaimBatch selects pending rows with FOR UPDATE SKIP LOCKED and stamps
// them in the same statement, so concurrent workers never see each other's
// claims. Schema lives in embedded SQL migrations; push_tokens carries
// row-level security policies keyed on the app.user_id setting so client
// roles only reach their own rows. The service connection owns the tables
// and bypasses those policies.
package postgres
