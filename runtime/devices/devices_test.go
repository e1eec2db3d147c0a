package devices

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeListAndMappingAreEquivalent(t *testing.T) {
	list := []byte(`[
		{"id":"d1","name":"Door","isActive":false,"status":"online"},
		{"id":"d2","name":"Window","isActive":true,"status":"offline"}
	]`)
	keyed := []byte(`{
		"d2":{"name":"Window","isActive":true,"status":"offline"},
		"d1":{"name":"Door","isActive":false,"status":"online"}
	}`)

	fromList, err := Normalize(list)
	require.NoError(t, err)
	fromMap, err := Normalize(keyed)
	require.NoError(t, err)
	require.Equal(t, fromList, fromMap)
}

func TestNormalizeMappingUsesKeyAsIdentifier(t *testing.T) {
	got, err := Normalize([]byte(`{"d1":{"id":"ignored","name":"Door","isActive":false,"status":"online"}}`))
	require.NoError(t, err)
	require.Equal(t, []Device{{ID: "d1", Name: "Door", IsActive: false, Status: StatusOnline}}, got)
}

func TestNormalizeMappingOrdersIntegerKeysNumerically(t *testing.T) {
	got, err := Normalize([]byte(`{"b":{"name":"B"},"2":{"name":"Two"},"10":{"name":"Ten"},"a":{"name":"A"},"01":{"name":"Padded"},"1":{"name":"One"}}`))
	require.NoError(t, err)

	ids := make([]string, 0, len(got))
	for _, device := range got {
		ids = append(ids, device.ID)
	}
	require.Equal(t, []string{"1", "2", "10", "01", "a", "b"}, ids)
}

func TestNormalizeKeepsListOrder(t *testing.T) {
	got, err := Normalize([]byte(`[{"id":"b","name":"B"},{"id":"a","name":"A"}]`))
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "b", got[0].ID)
	require.Equal(t, "a", got[1].ID)
}

func TestNormalizeNumericIdentifiers(t *testing.T) {
	got, err := Normalize([]byte(`[{"id":1,"name":"Household 1","isActive":true},{"id":2,"name":"Household 2","isActive":false}]`))
	require.NoError(t, err)
	require.Equal(t, "1", got[0].ID)
	require.Equal(t, "2", got[1].ID)
	require.True(t, got[0].IsActive)
}

func TestNormalizeEmptyShapes(t *testing.T) {
	for _, raw := range []string{"", "null", "  null\n", "[]", "{}"} {
		got, err := Normalize([]byte(raw))
		require.NoError(t, err, "payload %q", raw)
		require.NotNil(t, got)
		require.Empty(t, got)
	}
}

func TestNormalizeSkipsDeletedMappingEntries(t *testing.T) {
	got, err := Normalize([]byte(`{"d1":null,"d2":{"name":"Garage"}}`))
	require.NoError(t, err)
	require.Equal(t, []Device{{ID: "d2", Name: "Garage"}}, got)
}

func TestNormalizeUnsupportedShapes(t *testing.T) {
	for _, raw := range []string{`42`, `"devices"`, `true`, `[1,2]`, `{"d1":"Door"}`, `{broken`} {
		got, err := Normalize([]byte(raw))
		require.Error(t, err, "payload %q", raw)
		require.True(t, errors.Is(err, ErrUnsupportedShape))
		require.NotNil(t, got)
		require.Empty(t, got)
	}
}

func TestDecodeMutationResult(t *testing.T) {
	device, err := DecodeMutationResult([]byte(`{"id":"d1","name":"Door","isActive":true}`))
	require.NoError(t, err)
	require.Equal(t, Device{ID: "d1", Name: "Door", IsActive: true}, device)

	_, err = DecodeMutationResult([]byte(`[]`))
	require.ErrorIs(t, err, ErrUnsupportedShape)
}

func TestRegistryApplySnapshotIsIdempotent(t *testing.T) {
	snapshot := []Device{{ID: "d1", Name: "Door"}, {ID: "d2", Name: "Window"}}
	registry := NewRegistry()
	registry.ApplySnapshot(snapshot)
	first := registry.Devices()
	registry.ApplySnapshot(snapshot)
	require.Equal(t, first, registry.Devices())
	require.Equal(t, 2, registry.Len())
}

func TestRegistryApplySnapshotReplacesEverything(t *testing.T) {
	registry := NewRegistry()
	registry.ApplySnapshot([]Device{{ID: "d1"}, {ID: "d2"}})
	registry.ApplySnapshot([]Device{{ID: "d3", Name: "Cellar"}})

	_, ok := registry.Lookup("d1")
	require.False(t, ok)
	require.Equal(t, []Device{{ID: "d3", Name: "Cellar"}}, registry.Devices())
}

func TestRegistryApplySnapshotCollapsesDuplicates(t *testing.T) {
	registry := NewRegistry()
	registry.ApplySnapshot([]Device{
		{ID: "d1", Name: "old"},
		{ID: "d2", Name: "Window"},
		{ID: "d1", Name: "new"},
		{Name: "no id"},
	})
	require.Equal(t, []Device{{ID: "d1", Name: "new"}, {ID: "d2", Name: "Window"}}, registry.Devices())
}

func TestRegistryApplyMutationResultMergesByID(t *testing.T) {
	registry := NewRegistry()
	registry.ApplySnapshot([]Device{
		{ID: "d1", Name: "Door", Status: StatusOnline},
		{ID: "d2", Name: "Window", IsActive: true, Status: StatusOffline},
	})

	registry.ApplyMutationResult(Device{ID: "d1", Name: "Door", IsActive: true})

	door, ok := registry.Lookup("d1")
	require.True(t, ok)
	require.True(t, door.IsActive)
	require.Equal(t, StatusOnline, door.Status)

	window, _ := registry.Lookup("d2")
	require.Equal(t, Device{ID: "d2", Name: "Window", IsActive: true, Status: StatusOffline}, window)
}

func TestRegistryApplyMutationResultInsertsUnknownDevice(t *testing.T) {
	registry := NewRegistry()
	registry.ApplySnapshot([]Device{{ID: "d1", Name: "Door"}})
	registry.ApplyMutationResult(Device{ID: "d9", Name: "Shed", IsActive: true})

	require.Equal(t, 2, registry.Len())
	require.Equal(t, "d9", registry.Devices()[1].ID)
}
