// Package middleware adapts the duoflow engine to net/http: a login
// handler that feeds form and callback parameters into the flow, a
// per-request gate that re-enters the flow for sessions that skipped the
// second factor, and the canonical page-URL computation used as the
// post-prompt return target.
package middleware
