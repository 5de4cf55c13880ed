package models

import "time"

// EntityProperty represents a structural property of an entity or complex type
type EntityProperty struct {
	Name     string `json:"name"`
	Type     string `json:"type"` // qualified type (e.g., "Edm.String", "NS.Address", "Collection(Edm.Int32)")
	Nullable bool   `json:"nullable"`
	IsKey    bool   `json:"is_key"`
}

// EntityType represents an OData entity type definition
type EntityType struct {
	Name            string                `json:"name"`
	Namespace       string                `json:"namespace"`
	BaseType        string                `json:"base_type,omitempty"`
	Abstract        bool                  `json:"abstract,omitempty"`
	OpenType        bool                  `json:"open_type,omitempty"`
	HasStream       bool                  `json:"has_stream,omitempty"`
	Properties      []*EntityProperty     `json:"properties"`
	KeyProperties   []string              `json:"key_properties"`
	NavigationProps []*NavigationProperty `json:"navigation_properties,omitempty"`
}

// QualifiedName returns Namespace.Name
func (t *EntityType) QualifiedName() string {
	return qualify(t.Namespace, t.Name)
}

// ComplexType represents an OData complex type definition
type ComplexType struct {
	Name       string            `json:"name"`
	Namespace  string            `json:"namespace"`
	BaseType   string            `json:"base_type,omitempty"`
	OpenType   bool              `json:"open_type,omitempty"`
	Properties []*EntityProperty `json:"properties"`
}

// QualifiedName returns Namespace.Name
func (t *ComplexType) QualifiedName() string {
	return qualify(t.Namespace, t.Name)
}

// NavigationProperty represents a navigation property in an entity type.
// ToType and Many are resolved from the association end named by ToRole.
type NavigationProperty struct {
	Name         string `json:"name"`
	Relationship string `json:"relationship"`
	ToRole       string `json:"to_role"`
	FromRole     string `json:"from_role"`
	ToType       string `json:"to_type,omitempty"`
	Many         bool   `json:"many"`
}

// Association represents an association between two entity types
type Association struct {
	Name      string            `json:"name"`
	Namespace string            `json:"namespace"`
	Ends      []*AssociationEnd `json:"ends"`
}

// AssociationEnd is one role of an association
type AssociationEnd struct {
	Role         string `json:"role"`
	Type         string `json:"type"`
	Multiplicity string `json:"multiplicity"` // 0..1, 1, *
}

// EntitySet represents an OData entity set
type EntitySet struct {
	Name       string `json:"name"`
	EntityType string `json:"entity_type"` // qualified
	Creatable  bool   `json:"creatable"`
	Updatable  bool   `json:"updatable"`
	Deletable  bool   `json:"deletable"`
	Searchable bool   `json:"searchable"`
	Pageable   bool   `json:"pageable"`
}

// FunctionImport represents an OData function import or service operation
type FunctionImport struct {
	Name            string               `json:"name"`
	HTTPMethod      string               `json:"http_method"`
	ReturnType      string               `json:"return_type,omitempty"`
	EntitySet       string               `json:"entity_set,omitempty"`
	IsBindable      bool                 `json:"is_bindable,omitempty"`
	IsSideEffecting bool                 `json:"is_side_effecting"`
	Parameters      []*FunctionParameter `json:"parameters"`
}

// FunctionParameter represents a parameter for a function import
type FunctionParameter struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Mode     string `json:"mode,omitempty"` // In, Out, InOut
	Nullable bool   `json:"nullable"`
}

// ODataMetadata represents the complete OData service metadata. Type maps
// are keyed by qualified name.
type ODataMetadata struct {
	ServiceRoot     string                     `json:"service_root"`
	EntityTypes     map[string]*EntityType     `json:"entity_types"`
	ComplexTypes    map[string]*ComplexType    `json:"complex_types"`
	Associations    map[string]*Association    `json:"associations"`
	EntitySets      map[string]*EntitySet      `json:"entity_sets"`
	FunctionImports map[string]*FunctionImport `json:"function_imports"`
	SchemaNamespace string                     `json:"schema_namespace"`
	ContainerName   string                     `json:"container_name"`
	Version         string                     `json:"version"`
	ParsedAt        time.Time                  `json:"parsed_at"`
}

// MetadataSummary represents a summary of parsed metadata
type MetadataSummary struct {
	EntityTypes     int `json:"entity_types"`
	ComplexTypes    int `json:"complex_types"`
	EntitySets      int `json:"entity_sets"`
	FunctionImports int `json:"function_imports"`
}

// Summary counts the definitions in m
func (m *ODataMetadata) Summary() MetadataSummary {
	return MetadataSummary{
		EntityTypes:     len(m.EntityTypes),
		ComplexTypes:    len(m.ComplexTypes),
		EntitySets:      len(m.EntitySets),
		FunctionImports: len(m.FunctionImports),
	}
}

func qualify(namespace, name string) string {
	if namespace == "" {
		return name
	}
	return namespace + "." + name
}
