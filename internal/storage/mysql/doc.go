// Package mysql opens MySQL connection pools and applies the embedded schema
// migrations shared by the job store and the operation ledger.
package mysql
