// Package contracthub is a thin Go client for the ContractHub REST API:
// submitting deploy/send jobs, polling them to completion, read-only calls,
// calldata encoding and ledger queries.
package contracthub
