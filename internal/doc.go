// Package internal contains helper utilities that are intentionally
// private to duoflow, currently secure random token generation for the
// OIDC state correlation values.
//
// # What this package must NOT do
//
//   - Export types that appear in the public duoflow API.
//   - Be imported by any package outside the duoflow module.
package internal
