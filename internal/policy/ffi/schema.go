// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aranya Contributors

package ffi

import (
	"encoding/json"
	"sort"
	"strconv"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/samber/oops"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/aranya-project/aranya/internal/policy/compile"
	"github.com/aranya-project/aranya/internal/policy/machine"
)

const schemaErrKind = "FFIModuleSchema"

// ArgSchema is one function argument's stable wire shape (§6 ModuleSchema).
type ArgSchema struct {
	// Name is positional ("arg0", "arg1", ...): FFIFunction does not carry
	// argument names, only their types and call order.
	Name  string `json:"name" jsonschema:"required"`
	VType string `json:"vtype" jsonschema:"required"`
}

// FunctionSchema is one procedure's stable wire shape (§6 ModuleSchema).
type FunctionSchema struct {
	Name  string      `json:"name" jsonschema:"required"`
	Args  []ArgSchema `json:"args"`
	Color string      `json:"color" jsonschema:"enum=Pure,enum=Finish,required"`
}

// ModuleSchema is the stable, host-facing description of an FFI module's
// call surface (§6): a host embedding the VM introspects this to validate
// a policy source's `use` declarations without linking against the
// module's Go implementation.
type ModuleSchema struct {
	Name      string           `json:"name" jsonschema:"required"`
	Functions []FunctionSchema `json:"functions"`
}

// DescribeModule renders mod's Functions() into the wire schema shape.
func DescribeModule(mod machine.FFIModule) ModuleSchema {
	fns := mod.Functions()
	out := ModuleSchema{Name: mod.Name(), Functions: make([]FunctionSchema, 0, len(fns))}
	for _, fn := range fns {
		fs := FunctionSchema{Name: fn.Name, Color: colorName(fn.Color), Args: []ArgSchema{}}
		for i, arg := range fn.Args {
			fs.Args = append(fs.Args, ArgSchema{Name: argName(i), VType: arg.String()})
		}
		out.Functions = append(out.Functions, fs)
	}
	return out
}

// DescribeRegistry renders every module r knows about, sorted by name for
// a stable wire order.
func DescribeRegistry(r *machine.FFIRegistry) []ModuleSchema {
	names := r.ModuleNames()
	sort.Strings(names)
	out := make([]ModuleSchema, 0, len(names))
	for _, name := range names {
		mod, ok := r.Module(name)
		if !ok {
			continue
		}
		out = append(out, DescribeModule(mod))
	}
	return out
}

func colorName(c compile.Color) string {
	switch c {
	case compile.ColorPure:
		return "Pure"
	case compile.ColorFinish:
		return "Finish"
	default:
		return "Unknown"
	}
}

func argName(i int) string {
	return "arg" + strconv.Itoa(i)
}

var schemaState struct {
	once   sync.Once
	schema *jschema.Schema
	err    error
}

// GenerateModuleSchemaJSONSchema renders the JSON Schema that a serialized
// []ModuleSchema document must satisfy, mirroring how a plugin manifest's
// shape is reflected and published elsewhere in this codebase.
func GenerateModuleSchemaJSONSchema() ([]byte, error) {
	r := jsonschema.Reflector{DoNotReference: true}
	schema := r.Reflect(&[]ModuleSchema{})
	schema.Title = "Aranya FFI Module Schema"
	schema.Description = "Stable wire contract for FFI module introspection (spec §6)"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, oops.Code(schemaErrKind).Errorf("marshaling module schema: %w", err)
	}
	return append(data, '\n'), nil
}

func compiledModuleSchema() (*jschema.Schema, error) {
	schemaState.once.Do(func() {
		raw, err := GenerateModuleSchemaJSONSchema()
		if err != nil {
			schemaState.err = err
			return
		}
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			schemaState.err = oops.Code(schemaErrKind).Errorf("parsing generated schema: %w", err)
			return
		}
		c := jschema.NewCompiler()
		if err := c.AddResource("module-schema.json", doc); err != nil {
			schemaState.err = oops.Code(schemaErrKind).Errorf("adding schema resource: %w", err)
			return
		}
		sch, err := c.Compile("module-schema.json")
		if err != nil {
			schemaState.err = oops.Code(schemaErrKind).Errorf("compiling schema: %w", err)
			return
		}
		schemaState.schema = sch
	})
	return schemaState.schema, schemaState.err
}

// ValidateModuleSchemaDocument validates a serialized []ModuleSchema
// document (as produced by json.Marshal(DescribeRegistry(r))) against the
// generated JSON Schema, catching a malformed or hand-edited wire document
// before a host ever tries to bind against it.
func ValidateModuleSchemaDocument(data []byte) error {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return oops.Code(schemaErrKind).Errorf("parsing module schema document: %w", err)
	}
	sch, err := compiledModuleSchema()
	if err != nil {
		return err
	}
	if err := sch.Validate(doc); err != nil {
		return oops.Code(schemaErrKind).Errorf("module schema document failed validation: %w", err)
	}
	return nil
}
