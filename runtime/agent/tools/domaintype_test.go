package tools

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDomainTypeJSONSchema(t *testing.T) {
	dt := DomainType{
		Name:        "Customer",
		Description: "A customer record",
		Properties: []DomainProperty{
			{Name: "name", TypeName: "string", Cardinality: One, Description: "Legal name"},
			{Name: "age", TypeName: "long", Cardinality: Optional},
			{Name: "balance", TypeName: "decimal", Cardinality: One},
			{Name: "tags", TypeName: "string", Cardinality: Set},
			{Name: "orders", Cardinality: List, Nested: &DomainType{
				Name: "Order",
				Properties: []DomainProperty{
					{Name: "id", TypeName: "string", Cardinality: One},
				},
			}},
		},
	}

	doc := dt.JSONSchema()
	require.Equal(t, "object", doc["type"])
	require.Equal(t, "A customer record", doc["description"])

	props := doc["properties"].(map[string]any)
	require.Equal(t, "string", props["name"].(map[string]any)["type"])
	require.Equal(t, "Legal name", props["name"].(map[string]any)["description"])
	require.Equal(t, "integer", props["age"].(map[string]any)["type"])
	require.Equal(t, "number", props["balance"].(map[string]any)["type"])

	tags := props["tags"].(map[string]any)
	require.Equal(t, "array", tags["type"])
	require.Equal(t, "string", tags["items"].(map[string]any)["type"])

	orders := props["orders"].(map[string]any)
	require.Equal(t, "array", orders["type"])
	nested := orders["items"].(map[string]any)
	require.Equal(t, []string{"id"}, nested["required"])

	// Optional properties are not required; collections are.
	required := doc["required"].([]string)
	require.ElementsMatch(t, []string{"name", "balance", "tags", "orders"}, required)
}

func TestDomainTypePrimitiveFallback(t *testing.T) {
	dt := DomainType{
		Name: "Thing",
		Properties: []DomainProperty{
			{Name: "blob", TypeName: "uuid", Cardinality: One},
			{Name: "flag", TypeName: "bool", Cardinality: One},
		},
	}
	props := dt.JSONSchema()["properties"].(map[string]any)
	require.Equal(t, "string", props["blob"].(map[string]any)["type"])
	require.Equal(t, "boolean", props["flag"].(map[string]any)["type"])
}
