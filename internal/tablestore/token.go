package tablestore

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// continuationKey is the last (partition_key, row_key) returned by a page.
type continuationKey struct {
	PartitionKey string `json:"pk"`
	RowKey       string `json:"rk"`
}

func encodeToken(e Entity) (string, error) {
	raw, err := json.Marshal(continuationKey{PartitionKey: e.PartitionKey, RowKey: e.RowKey})
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func decodeToken(token string) (continuationKey, error) {
	var key continuationKey
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return key, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if err := json.Unmarshal(raw, &key); err != nil {
		return key, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return key, nil
}

// before reports whether key sorts strictly before e.
func (key continuationKey) before(e Entity) bool {
	if e.PartitionKey != key.PartitionKey {
		return e.PartitionKey > key.PartitionKey
	}
	return e.RowKey > key.RowKey
}
