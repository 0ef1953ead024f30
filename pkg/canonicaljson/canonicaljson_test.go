package canonicaljson_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ShaojieJiang/orcheo/pkg/canonicaljson"
)

func TestMarshalSortsKeys(t *testing.T) {
	a, err := canonicaljson.MarshalString(map[string]any{"b": 1, "a": 2})
	require.NoError(t, err)
	require.Equal(t, `{"a":2,"b":1}`, a)
}

func TestMarshalIsDeterministicAcrossInputOrder(t *testing.T) {
	m1 := map[string]any{"z": 1, "a": map[string]any{"y": 2, "x": 3}}
	m2 := map[string]any{"a": map[string]any{"x": 3, "y": 2}, "z": 1}

	s1, err := canonicaljson.MarshalString(m1)
	require.NoError(t, err)
	s2, err := canonicaljson.MarshalString(m2)
	require.NoError(t, err)

	require.Equal(t, s1, s2)
}

func TestMarshalArraysPreserveOrder(t *testing.T) {
	s, err := canonicaljson.MarshalString(map[string]any{"items": []any{3, 1, 2}})
	require.NoError(t, err)
	require.Equal(t, `{"items":[3,1,2]}`, s)
}
