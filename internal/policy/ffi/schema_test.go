// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aranya Contributors

package ffi

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescribeRegistry_CoversAllFiveModules(t *testing.T) {
	reg, err := NewDefaultRegistry(nil, nil)
	require.NoError(t, err)
	schemas := DescribeRegistry(reg)
	names := make([]string, 0, len(schemas))
	for _, s := range schemas {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"crypto", "device", "envelope", "idam", "perspective"}, names)
}

func TestDescribeModule_RendersArgsAndColor(t *testing.T) {
	schema := DescribeModule(IdamModule{})
	require.NotEmpty(t, schema.Functions)
	var bindDevice *FunctionSchema
	for i := range schema.Functions {
		if schema.Functions[i].Name == "bind_device" {
			bindDevice = &schema.Functions[i]
		}
	}
	require.NotNil(t, bindDevice)
	assert.Equal(t, "Pure", bindDevice.Color)
	require.Len(t, bindDevice.Args, 4)
	assert.Equal(t, "arg0", bindDevice.Args[0].Name)
}

func TestModuleSchemaDocument_RoundTripsThroughValidation(t *testing.T) {
	reg, err := NewDefaultRegistry(nil, nil)
	require.NoError(t, err)
	schemas := DescribeRegistry(reg)
	data, err := json.Marshal(schemas)
	require.NoError(t, err)

	assert.NoError(t, ValidateModuleSchemaDocument(data))
}

func TestValidateModuleSchemaDocument_RejectsMalformedDocument(t *testing.T) {
	err := ValidateModuleSchemaDocument([]byte(`[{"name": 5}]`))
	require.Error(t, err)
}

func TestGenerateModuleSchemaJSONSchema_ProducesParseableSchema(t *testing.T) {
	data, err := GenerateModuleSchemaJSONSchema()
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "Aranya FFI Module Schema", doc["title"])
}
