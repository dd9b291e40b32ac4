package model

import "encoding/json"

// Monarch is a seed record forwarded by the import tool. The service on the
// other end owns its schema, so the raw JSON is passed through untouched.
type Monarch = json.RawMessage
