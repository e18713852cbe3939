// Package model defines the domain types shared by every tablesync package.
//
// This package contains type definitions and their wire encodings only.
// All other internal packages import model; model imports nothing internal.
//
// Key design constraints:
//   - Queue entries are a tagged union: an OrderSubmission or an AdminAction
//   - Admin actions are a sealed sum type (one Go type per ActionKind)
//   - Timestamps are Unix milliseconds assigned at enqueue time
//   - All JSON tags use lowerCamelCase to match the remote document store
package model
