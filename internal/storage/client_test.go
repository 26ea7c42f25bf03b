package storage

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadLimited(t *testing.T) {
	body := bytes.Repeat([]byte("x"), 64)

	tests := []struct {
		name     string
		maxBytes int64
		wantErr  bool
	}{
		{name: "unlimited", maxBytes: 0},
		{name: "exact fit", maxBytes: 64},
		{name: "room to spare", maxBytes: 1 << 20},
		{name: "one byte over", maxBytes: 63, wantErr: true},
		{name: "far over", maxBytes: 8, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := readLimited(bytes.NewReader(body), tt.maxBytes)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrObjectTooLarge)
				assert.Nil(t, data)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, body, data)
		})
	}
}

func TestNewClientRequiresBucket(t *testing.T) {
	_, err := NewClient(Config{Endpoint: "localhost:9000"})
	assert.Error(t, err)

	client, err := NewClient(Config{Endpoint: "localhost:9000", Bucket: "sources"})
	require.NoError(t, err)
	assert.Equal(t, "sources", client.Bucket())
}
