// Package config loads the ContractHub JSON configuration file and fills in
// defaults. Relative paths inside the file are resolved against the file's
// own directory.
package config
