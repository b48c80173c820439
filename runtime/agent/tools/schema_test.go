package tools

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInputSchemaJSONSchema(t *testing.T) {
	s := InputSchema{Parameters: []Parameter{
		{Name: "query", Type: TypeString, Description: "Search query", Required: true},
		{Name: "limit", Type: TypeInteger},
		{Name: "tags", Type: TypeArray, ItemType: TypeString},
		{Name: "mode", Type: TypeString, Enum: []string{"fast", "thorough"}},
		{Name: "filter", Type: TypeObject, Properties: []Parameter{
			{Name: "field", Type: TypeString, Required: true},
		}},
	}}

	doc := s.JSONSchema()
	require.Equal(t, "object", doc["type"])
	require.Equal(t, []string{"query"}, doc["required"])

	props := doc["properties"].(map[string]any)
	query := props["query"].(map[string]any)
	require.Equal(t, "string", query["type"])
	require.Equal(t, "Search query", query["description"])

	tags := props["tags"].(map[string]any)
	require.Equal(t, map[string]any{"type": "string"}, tags["items"])

	mode := props["mode"].(map[string]any)
	require.Equal(t, []any{"fast", "thorough"}, mode["enum"])

	filter := props["filter"].(map[string]any)
	require.Equal(t, []string{"field"}, filter["required"])
}

func TestInputSchemaCompile(t *testing.T) {
	require.NoError(t, InputSchema{}.Compile())
	require.NoError(t, InputSchema{Parameters: []Parameter{
		{Name: "n", Type: TypeNumber},
	}}.Compile())
}

func TestValidateInput(t *testing.T) {
	s := InputSchema{Parameters: []Parameter{
		{Name: "name", Type: TypeString, Required: true},
		{Name: "count", Type: TypeInteger},
	}}

	require.NoError(t, s.ValidateInput(json.RawMessage(`{"name":"x","count":3}`)))
	require.NoError(t, s.ValidateInput(json.RawMessage(`{"name":"x"}`)))
	require.Error(t, s.ValidateInput(json.RawMessage(`{"count":3}`)))
	require.Error(t, s.ValidateInput(json.RawMessage(`{"name":42}`)))
	require.Error(t, s.ValidateInput(json.RawMessage(`{"name":`)))

	// Empty input validates as an empty object.
	empty := InputSchema{}
	require.NoError(t, empty.ValidateInput(nil))
}

func TestSchemaOfStruct(t *testing.T) {
	type nested struct {
		City string `json:"city"`
	}
	type subject struct {
		Name      string    `json:"name" description:"Full name"`
		Age       int       `json:"age,omitempty"`
		Score     *float64  `json:"score"`
		Kind      string    `json:"kind" enum:"basic,premium"`
		Addresses []nested  `json:"addresses"`
		Born      time.Time `json:"born"`
		hidden    string    `json:"hidden"`
		Skipped   string    `json:"-"`
	}
	_ = subject{hidden: ""}

	doc := SchemaOf(subject{})
	require.Equal(t, "object", doc["type"])

	props := doc["properties"].(map[string]any)
	require.Contains(t, props, "name")
	require.NotContains(t, props, "hidden")
	require.NotContains(t, props, "Skipped")

	name := props["name"].(map[string]any)
	require.Equal(t, "Full name", name["description"])

	kind := props["kind"].(map[string]any)
	require.Equal(t, []any{"basic", "premium"}, kind["enum"])

	born := props["born"].(map[string]any)
	require.Equal(t, "date-time", born["format"])

	addresses := props["addresses"].(map[string]any)
	require.Equal(t, "array", addresses["type"])

	// Required excludes omitempty and pointer fields.
	required := doc["required"].([]string)
	require.Contains(t, required, "name")
	require.NotContains(t, required, "age")
	require.NotContains(t, required, "score")
}

func TestSchemaOfTypeWithFilters(t *testing.T) {
	type subject struct {
		Keep string `json:"keep"`
		Drop string `json:"drop"`
	}
	doc := SchemaOf(subject{}, func(name string) bool { return name != "drop" })
	props := doc["properties"].(map[string]any)
	require.Contains(t, props, "keep")
	require.NotContains(t, props, "drop")
	require.Equal(t, []string{"keep"}, doc["required"])
}
