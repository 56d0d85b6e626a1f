// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package paramvalue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupDottedPath(t *testing.T) {
	v := Map(map[string]Value{
		"model": Map(map[string]Value{
			"layers": Tuple(Int(1), Int(2), Int(3)),
		}),
	})

	got, ok := v.Lookup("model.layers.1")
	require.True(t, ok)
	i, ok := got.AsInt()
	require.True(t, ok)
	assert.Equal(t, int64(2), i)
}

func TestFromJSONRejectsReservedKeys(t *testing.T) {
	defer func() {
		r := recover()
		require.NotNil(t, r)
	}()
	_, _ = FromJSON([]byte(`{"_id": 3}`))
}

func TestMergeOverridesScalarsAndRecursesMaps(t *testing.T) {
	base := Map(map[string]Value{
		"a": Int(1),
		"nested": Map(map[string]Value{
			"x": Int(1),
			"y": Int(2),
		}),
	})
	override := Map(map[string]Value{
		"a": Int(9),
		"nested": Map(map[string]Value{
			"y": Int(20),
		}),
	})

	merged := Merge(base, override)
	a, _ := mustField(merged, "a").AsInt()
	assert.Equal(t, int64(9), a)

	nested := mustField(merged, "nested")
	x, _ := mustField(nested, "x").AsInt()
	y, _ := mustField(nested, "y").AsInt()
	assert.Equal(t, int64(1), x)
	assert.Equal(t, int64(20), y)
}

func TestResolveTimestampReplacesToken(t *testing.T) {
	v := Map(map[string]Value{
		"model_dir": String("/out/run-__timestamp__"),
	})
	resolved := ResolveTimestamp(v, "12:00:00-01Jan26")
	s, _ := mustField(resolved, "model_dir").AsString()
	assert.Equal(t, "/out/run-12:00:00-01Jan26", s)
}

func TestToJSONRendersMapsTuplesAndScalars(t *testing.T) {
	v := Map(map[string]Value{
		"lr":     Float(0.01),
		"layers": Tuple(Int(1), Int(2)),
		"name":   String("run"),
	})

	data, err := ToJSON(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"lr":0.01,"layers":[1,2],"name":"run"}`, string(data))
}

func mustField(v Value, name string) Value {
	f, ok := v.Field(name)
	if !ok {
		panic("missing field " + name)
	}
	return f
}
