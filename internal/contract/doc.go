// Package contract binds an ABI and bytecode pair to a single contract and
// turns deploy, send, call and encode requests into blocking operations over
// a go-ethereum backend.
//
// Deploy and Send broadcast through accounts/abi/bind, then wait on a
// Submission until a Tracker reports the configured confirmation depth or an
// error. Each operation settles exactly once and returns its own result; the
// handle additionally remembers the latest receipt, deployment hash and
// address, last confirmation wins.
//
// Failures are classified with the coded errors ErrSubmission,
// ErrConfirmation, ErrCall and ErrEncoding; the underlying error stays
// reachable through errors.Unwrap.
package contract
