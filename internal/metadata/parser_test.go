package metadata

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadDemo(t *testing.T) *Model {
	t.Helper()
	data, err := os.ReadFile("testdata/demo.xml")
	require.NoError(t, err)
	m, err := Load(data, "http://host/svc")
	require.NoError(t, err)
	return m
}

func TestParseMetadata(t *testing.T) {
	data, err := os.ReadFile("testdata/demo.xml")
	require.NoError(t, err)

	md, err := ParseMetadata(data, "http://host/svc")
	require.NoError(t, err)

	assert.Equal(t, "3.0", md.Version)
	assert.Equal(t, "ODataDemo", md.SchemaNamespace)
	assert.Equal(t, "DemoService", md.ContainerName)
	assert.Len(t, md.EntityTypes, 6)
	assert.Len(t, md.ComplexTypes, 2)
	assert.Len(t, md.EntitySets, 5)
	assert.Len(t, md.FunctionImports, 4)

	product := md.EntityTypes["ODataDemo.Product"]
	require.NotNil(t, product)
	assert.Equal(t, []string{"ID"}, product.KeyProperties)
	assert.True(t, product.Properties[0].IsKey)
	assert.False(t, product.Properties[0].Nullable)
	assert.True(t, product.Properties[1].Nullable)

	require.Len(t, product.NavigationProps, 2)
	category := product.NavigationProps[0]
	assert.Equal(t, "ODataDemo.Product_Category", category.Relationship, "alias resolved")
	assert.Equal(t, "ODataDemo.Category", category.ToType)
	assert.False(t, category.Many)

	featured := md.EntityTypes["ODataDemo.FeaturedProduct"]
	require.NotNil(t, featured)
	assert.Equal(t, "ODataDemo.Product", featured.BaseType)

	assert.True(t, md.EntityTypes["ODataDemo.Category"].OpenType)
	assert.True(t, md.EntityTypes["ODataDemo.PersonPhoto"].HasStream)
	assert.Equal(t, "ODataDemo.Address", md.EntityTypes["ODataDemo.Supplier"].Properties[2].Type)

	assert.Equal(t, "ODataDemo.Category", md.EntitySets["Categories"].EntityType)
	assert.True(t, md.EntitySets["Products"].Creatable)
	assert.False(t, md.EntitySets["Products"].Searchable)

	summary := md.Summary()
	assert.Equal(t, 6, summary.EntityTypes)
	assert.Equal(t, 2, summary.ComplexTypes)
}

func TestParseFunctionImports(t *testing.T) {
	data, err := os.ReadFile("testdata/demo.xml")
	require.NoError(t, err)
	md, err := ParseMetadata(data, "")
	require.NoError(t, err)

	tests := []struct {
		name       string
		method     string
		returnType string
		bindable   bool
		params     int
	}{
		{"GetProductsByRating", "GET", "Collection(ODataDemo.Product)", false, 1},
		{"Discount", "POST", "", true, 2},
		{"MostExpensive", "GET", "ODataDemo.Product", false, 0},
		{"SimilarProducts", "GET", "Collection(ODataDemo.Product)", true, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fi := md.FunctionImports[tt.name]
			require.NotNil(t, fi)
			assert.Equal(t, tt.method, fi.HTTPMethod)
			assert.Equal(t, tt.returnType, fi.ReturnType)
			assert.Equal(t, tt.bindable, fi.IsBindable)
			assert.Len(t, fi.Parameters, tt.params)
			for _, p := range fi.Parameters {
				assert.Equal(t, "In", p.Mode)
			}
		})
	}
	assert.Equal(t, "ODataDemo.Product", md.FunctionImports["Discount"].Parameters[0].Type)
}

func TestParseMetadataErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not xml", "{}"},
		{"no schema", `<edmx:Edmx Version="1.0" xmlns:edmx="http://schemas.microsoft.com/ado/2007/06/edmx"><edmx:DataServices/></edmx:Edmx>`},
		{"v4", `<edmx:Edmx Version="4.0" xmlns:edmx="http://docs.oasis-open.org/odata/ns/edmx"><edmx:DataServices><Schema Namespace="X"/></edmx:DataServices></edmx:Edmx>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMetadata([]byte(tt.data), "")
			assert.Error(t, err)
		})
	}
}

func TestResolveAlias(t *testing.T) {
	aliases := map[string]string{"Self": "ODataDemo"}
	tests := []struct {
		in, want string
	}{
		{"Self.Product", "ODataDemo.Product"},
		{"Collection(Self.Address)", "Collection(ODataDemo.Address)"},
		{"Edm.String", "Edm.String"},
		{"Other.Thing", "Other.Thing"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, resolveAlias(tt.in, aliases), tt.in)
	}
}
