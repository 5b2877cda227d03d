// Package ledger records which notifications have already been delivered and
// which ones failed, backed by a JSON file or a DynamoDB table.
package ledger

import "github.com/ardian231/notify-wa/internal/types"

// Compile-time interface compliance checks.
var _ types.LedgerStore = (*FileStore)(nil)
var _ types.FailureLog = (*FailureFile)(nil)
var _ types.LedgerStore = (*DynamoStore)(nil)
var _ types.FailureLog = (*DynamoStore)(nil)
