package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeUUID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "b2bbc642-46da-11ed-b878-0242ac120002", want: "b2bbc64246da11edb8780242ac120002"},
		{in: "C9AF9C76-46DE-11ED-B878-0242AC120002", want: "c9af9c7646de11edb8780242ac120002"},
		{in: "  c9af9c7646de11edb8780242ac120002 ", want: "c9af9c7646de11edb8780242ac120002"},
		{in: "0x180F", want: "180f"},
		{in: "2a19", want: "2a19"},
		{in: "00002a19-0000-1000-8000-00805f9b34fb", want: "2a19"},
		{in: "0000180F-0000-1000-8000-00805F9B34FB", want: "180f"},
		// not SIG base: kept at full length
		{in: "00002a19-0000-1000-8000-00805f9b34fc", want: "00002a1900001000800000805f9b34fc"},
		{in: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeUUID(tt.in))
		})
	}
}

func TestNormalizeUUID_Idempotent(t *testing.T) {
	for _, u := range []string{
		"b2bbc642-46da-11ed-b878-0242ac120002",
		"00002902-0000-1000-8000-00805f9b34fb",
		"0x2A00",
	} {
		once := NormalizeUUID(u)
		assert.Equal(t, once, NormalizeUUID(once), "normalizing %q twice MUST be stable", u)
	}
}

func TestEqualUUID(t *testing.T) {
	assert.True(t, EqualUUID("B2BBC642-46DA-11ED-B878-0242AC120002", "b2bbc64246da11edb8780242ac120002"))
	assert.True(t, EqualUUID("0x2a19", "00002A19-0000-1000-8000-00805F9B34FB"))
	assert.False(t, EqualUUID("2a19", "2a1a"))
}

func TestValidateUUID(t *testing.T) {
	got, err := ValidateUUID("b2bbc642-46da-11ed-b878-0242ac120002", "0x180F", "12345678")
	require.NoError(t, err)
	assert.Equal(t, []string{"b2bbc64246da11edb8780242ac120002", "180f", "12345678"}, got)

	tests := []struct {
		name  string
		uuids []string
	}{
		{name: "none", uuids: nil},
		{name: "empty", uuids: []string{""}},
		{name: "bad length", uuids: []string{"123"}},
		{name: "non-hex", uuids: []string{"zzzz"}},
		{name: "second invalid", uuids: []string{"180f", "b2bbc642-46da"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateUUID(tt.uuids...)
			assert.Error(t, err)
		})
	}
}
