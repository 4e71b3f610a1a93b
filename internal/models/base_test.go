package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewULID(t *testing.T) {
	id := NewULID()
	assert.False(t, id.IsZero())
	assert.Len(t, id.String(), 26)
	assert.NotEqual(t, id, NewULID(), "two NewULID calls should produce different IDs")
	assert.WithinDuration(t, time.Now(), id.Time(), time.Second)
}

func TestParseULID(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		original := NewULID()
		parsed, err := ParseULID(original.String())
		require.NoError(t, err)
		assert.Equal(t, original, parsed)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := ParseULID("not-a-valid-ulid")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid ULID")
	})

	t.Run("empty", func(t *testing.T) {
		_, err := ParseULID("")
		assert.Error(t, err)
	})
}

func TestULID_Value(t *testing.T) {
	var zero ULID
	val, err := zero.Value()
	require.NoError(t, err)
	assert.Nil(t, val)

	id := NewULID()
	val, err = id.Value()
	require.NoError(t, err)
	assert.Equal(t, id.String(), val)
}

func TestULID_Scan(t *testing.T) {
	validID := NewULID()
	validStr := validID.String()

	tests := []struct {
		name      string
		input     any
		expected  ULID
		expectErr bool
	}{
		{"nil sets zero", nil, ULID{}, false},
		{"valid string", validStr, validID, false},
		{"empty string sets zero", "", ULID{}, false},
		{"valid []byte", []byte(validStr), validID, false},
		{"empty []byte sets zero", []byte{}, ULID{}, false},
		{"invalid string", "bad-ulid", ULID{}, true},
		{"unsupported type", 12345, ULID{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var u ULID
			err := u.Scan(tt.input)
			if tt.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, u)
		})
	}
}

func TestULID_JSON(t *testing.T) {
	t.Run("round trip inside a struct", func(t *testing.T) {
		type wrapper struct {
			ID ULID `json:"id"`
		}
		in := wrapper{ID: NewULID()}
		data, err := json.Marshal(in)
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":"`+in.ID.String()+`"}`, string(data))

		var out wrapper
		require.NoError(t, json.Unmarshal(data, &out))
		assert.Equal(t, in.ID, out.ID)
	})

	t.Run("zero marshals to empty string", func(t *testing.T) {
		data, err := json.Marshal(ULID{})
		require.NoError(t, err)
		assert.Equal(t, `""`, string(data))
	})

	t.Run("empty string unmarshals to zero", func(t *testing.T) {
		var u ULID
		require.NoError(t, json.Unmarshal([]byte(`""`), &u))
		assert.True(t, u.IsZero())
	})

	t.Run("invalid string errors", func(t *testing.T) {
		var u ULID
		err := json.Unmarshal([]byte(`"not-a-ulid"`), &u)
		assert.Error(t, err)
	})
}

func TestBaseModel_BeforeCreate(t *testing.T) {
	t.Run("generates id", func(t *testing.T) {
		var b BaseModel
		require.NoError(t, b.BeforeCreate(nil))
		assert.False(t, b.ID.IsZero())
	})

	t.Run("keeps existing id", func(t *testing.T) {
		id := NewULID()
		b := BaseModel{ID: id}
		require.NoError(t, b.BeforeCreate(nil))
		assert.Equal(t, id, b.ID)
	})
}
