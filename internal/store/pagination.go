package store

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"
)

type OrderCursor struct {
	CreatedAt time.Time `json:"created_at"`
	ID        string    `json:"id"`
}

func EncodeCursor(cursor OrderCursor) string {
	data, err := json.Marshal(cursor)
	if err != nil {
		return ""
	}
	return base64.URLEncoding.EncodeToString(data)
}

// IsStart reports whether the cursor points before the first row.
func (c OrderCursor) IsStart() bool {
	return c.CreatedAt.IsZero() && c.ID == ""
}

// DecodeCursor turns an opaque cursor back into its position. The empty
// string decodes to the start cursor.
func DecodeCursor(encoded string) (OrderCursor, error) {
	var cursor OrderCursor
	if encoded == "" {
		return cursor, nil
	}

	data, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return cursor, err
	}

	if err := json.Unmarshal(data, &cursor); err != nil {
		return cursor, err
	}
	if cursor.IsStart() {
		return cursor, errors.New("empty cursor position")
	}
	return cursor, nil
}
