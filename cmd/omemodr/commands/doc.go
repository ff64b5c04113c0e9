// Package commands defines the omemodr CLI.
//
// Commands
//
//   - init      Create the local identity, signed pre-key and one-time pre-keys
//   - bundle    Print the pre-key bundle to publish
//   - sessions  List stored sessions
//   - demo      Run an in-process conversation between two devices
//
// The database path and the optional redis address come from the --db and
// --redis flags, falling back to OMEMODR_DB and OMEMODR_REDIS. A .env file in
// the working directory is loaded first.
package commands
