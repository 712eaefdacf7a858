// Package cli parses the integrity command line and runs the
// init, check, update and watch commands against a snapshot
// store.
//
// Run never exits the process. It returns errors that
// ExitCode maps to the process exit status.
//
// A path given to init or check that does not exist is a
// fatal error (exit 1) and the snapshot document is left as
// it was. Scripts that expected exit 0 there must test for
// the path first.
package cli
