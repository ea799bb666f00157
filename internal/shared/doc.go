// Package shared holds helpers used by more than one package.
//
// The testutil subpackage provides log capture and seeded backends for tests.
// Nothing here carries business logic.
package shared
