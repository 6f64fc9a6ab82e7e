// Package sink provides the etl.ResultWriter implementations the ETL flow
// writes its records to.
//
//   - ConsoleWriter prints "Wrote <record> to database successfully!".
//   - SQLWriter inserts the record as JSON into the etl_result table of the
//     repository database.
//   - PostgresWriter inserts into an etl_result table in Postgres via pgx.
//
// Tee fans a record out to several writers.
package sink
