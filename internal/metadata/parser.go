package metadata

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/zmcp/odata-client/internal/constants"
	"github.com/zmcp/odata-client/internal/models"
)

// EDMX represents the root EDMX document
type EDMX struct {
	XMLName      xml.Name     `xml:"Edmx"`
	Version      string       `xml:"Version,attr"`
	DataServices DataServices `xml:"DataServices"`
}

// DataServices contains the schemas
type DataServices struct {
	XMLName            xml.Name `xml:"DataServices"`
	DataServiceVersion string   `xml:"http://schemas.microsoft.com/ado/2007/08/dataservices/metadata DataServiceVersion,attr"`
	Schemas            []Schema `xml:"Schema"`
}

// Schema contains types, associations and entity containers
type Schema struct {
	XMLName          xml.Name          `xml:"Schema"`
	Namespace        string            `xml:"Namespace,attr"`
	Alias            string            `xml:"Alias,attr"`
	EntityTypes      []EntityType      `xml:"EntityType"`
	ComplexTypes     []ComplexType     `xml:"ComplexType"`
	Associations     []Association     `xml:"Association"`
	EntityContainers []EntityContainer `xml:"EntityContainer"`
}

// EntityType represents an OData entity type
type EntityType struct {
	XMLName              xml.Name             `xml:"EntityType"`
	Name                 string               `xml:"Name,attr"`
	BaseType             string               `xml:"BaseType,attr"`
	Abstract             string               `xml:"Abstract,attr"`
	OpenType             string               `xml:"OpenType,attr"`
	HasStream            string               `xml:"http://schemas.microsoft.com/ado/2007/08/dataservices/metadata HasStream,attr"`
	Key                  Key                  `xml:"Key"`
	Properties           []Property           `xml:"Property"`
	NavigationProperties []NavigationProperty `xml:"NavigationProperty"`
}

// ComplexType represents an OData complex type
type ComplexType struct {
	XMLName    xml.Name   `xml:"ComplexType"`
	Name       string     `xml:"Name,attr"`
	BaseType   string     `xml:"BaseType,attr"`
	OpenType   string     `xml:"OpenType,attr"`
	Properties []Property `xml:"Property"`
}

// Key contains key properties
type Key struct {
	XMLName      xml.Name      `xml:"Key"`
	PropertyRefs []PropertyRef `xml:"PropertyRef"`
}

// PropertyRef references a key property
type PropertyRef struct {
	XMLName xml.Name `xml:"PropertyRef"`
	Name    string   `xml:"Name,attr"`
}

// Property represents a structural property
type Property struct {
	XMLName   xml.Name `xml:"Property"`
	Name      string   `xml:"Name,attr"`
	Type      string   `xml:"Type,attr"`
	Nullable  string   `xml:"Nullable,attr"`
	MaxLength string   `xml:"MaxLength,attr"`
	Precision string   `xml:"Precision,attr"`
	Scale     string   `xml:"Scale,attr"`
}

// NavigationProperty represents a navigation property
type NavigationProperty struct {
	XMLName      xml.Name `xml:"NavigationProperty"`
	Name         string   `xml:"Name,attr"`
	Relationship string   `xml:"Relationship,attr"`
	ToRole       string   `xml:"ToRole,attr"`
	FromRole     string   `xml:"FromRole,attr"`
}

// Association relates two entity types
type Association struct {
	XMLName xml.Name         `xml:"Association"`
	Name    string           `xml:"Name,attr"`
	Ends    []AssociationEnd `xml:"End"`
}

// AssociationEnd is one role of an association
type AssociationEnd struct {
	XMLName      xml.Name `xml:"End"`
	Role         string   `xml:"Role,attr"`
	Type         string   `xml:"Type,attr"`
	Multiplicity string   `xml:"Multiplicity,attr"`
}

// EntityContainer contains entity sets and function imports
type EntityContainer struct {
	XMLName         xml.Name         `xml:"EntityContainer"`
	Name            string           `xml:"Name,attr"`
	IsDefault       string           `xml:"http://schemas.microsoft.com/ado/2007/08/dataservices/metadata IsDefaultEntityContainer,attr"`
	EntitySets      []EntitySet      `xml:"EntitySet"`
	FunctionImports []FunctionImport `xml:"FunctionImport"`
}

// EntitySet represents an OData entity set
type EntitySet struct {
	XMLName    xml.Name `xml:"EntitySet"`
	Name       string   `xml:"Name,attr"`
	EntityType string   `xml:"EntityType,attr"`
	// SAP-specific attributes
	Creatable  string `xml:"http://www.sap.com/Protocols/SAPData creatable,attr"`
	Updatable  string `xml:"http://www.sap.com/Protocols/SAPData updatable,attr"`
	Deletable  string `xml:"http://www.sap.com/Protocols/SAPData deletable,attr"`
	Searchable string `xml:"http://www.sap.com/Protocols/SAPData searchable,attr"`
	Pageable   string `xml:"http://www.sap.com/Protocols/SAPData pageable,attr"`
}

// FunctionImport represents an OData function import
type FunctionImport struct {
	XMLName         xml.Name    `xml:"FunctionImport"`
	Name            string      `xml:"Name,attr"`
	ReturnType      string      `xml:"ReturnType,attr"`
	EntitySet       string      `xml:"EntitySet,attr"`
	IsBindable      string      `xml:"IsBindable,attr"`
	IsSideEffecting string      `xml:"IsSideEffecting,attr"`
	HTTPMethod      string      `xml:"http://schemas.microsoft.com/ado/2007/08/dataservices/metadata HttpMethod,attr"`
	Parameters      []Parameter `xml:"Parameter"`
}

// Parameter represents a function parameter
type Parameter struct {
	XMLName  xml.Name `xml:"Parameter"`
	Name     string   `xml:"Name,attr"`
	Type     string   `xml:"Type,attr"`
	Mode     string   `xml:"Mode,attr"`
	Nullable string   `xml:"Nullable,attr"`
}

// ParseMetadata parses an OData v1-v3 $metadata document. Every type
// reference in the result is namespace qualified, with schema aliases
// resolved.
func ParseMetadata(data []byte, serviceRoot string) (*models.ODataMetadata, error) {
	var edmx EDMX
	if err := xml.Unmarshal(data, &edmx); err != nil {
		return nil, fmt.Errorf("failed to parse metadata XML: %w", err)
	}
	if strings.HasPrefix(edmx.Version, "4.") {
		return nil, fmt.Errorf("unsupported EDMX version %s", edmx.Version)
	}
	schemas := edmx.DataServices.Schemas
	if len(schemas) == 0 {
		return nil, fmt.Errorf("no schemas found in metadata")
	}

	aliases := make(map[string]string)
	for _, s := range schemas {
		if s.Alias != "" {
			aliases[s.Alias] = s.Namespace
		}
	}
	resolve := func(name string) string {
		return resolveAlias(name, aliases)
	}

	metadata := &models.ODataMetadata{
		ServiceRoot:     serviceRoot,
		EntityTypes:     make(map[string]*models.EntityType),
		ComplexTypes:    make(map[string]*models.ComplexType),
		Associations:    make(map[string]*models.Association),
		EntitySets:      make(map[string]*models.EntitySet),
		FunctionImports: make(map[string]*models.FunctionImport),
		Version:         edmx.DataServices.DataServiceVersion,
		ParsedAt:        time.Now(),
	}
	if metadata.Version == "" {
		metadata.Version = edmx.Version
	}

	for _, s := range schemas {
		for _, a := range s.Associations {
			assoc := parseAssociation(a, s.Namespace, resolve)
			metadata.Associations[qualify(s.Namespace, a.Name)] = assoc
		}
	}

	for _, s := range schemas {
		for _, ct := range s.ComplexTypes {
			complexType := parseComplexType(ct, s.Namespace, resolve)
			metadata.ComplexTypes[complexType.QualifiedName()] = complexType
		}
		for _, et := range s.EntityTypes {
			entityType := parseEntityType(et, s.Namespace, resolve, metadata.Associations)
			metadata.EntityTypes[entityType.QualifiedName()] = entityType
		}
	}

	container, schema := defaultContainer(schemas)
	if container == nil {
		return metadata, nil
	}
	metadata.SchemaNamespace = schema.Namespace
	metadata.ContainerName = container.Name

	// Parse entity sets
	for _, es := range container.EntitySets {
		metadata.EntitySets[es.Name] = parseEntitySet(es, resolve)
	}

	// Parse function imports
	for _, fi := range container.FunctionImports {
		metadata.FunctionImports[fi.Name] = parseFunctionImport(fi, resolve)
	}

	return metadata, nil
}

// defaultContainer picks the container flagged as default, or the first one
func defaultContainer(schemas []Schema) (*EntityContainer, *Schema) {
	var first *EntityContainer
	var firstSchema *Schema
	for i := range schemas {
		for j := range schemas[i].EntityContainers {
			c := &schemas[i].EntityContainers[j]
			if c.IsDefault == "true" {
				return c, &schemas[i]
			}
			if first == nil {
				first, firstSchema = c, &schemas[i]
			}
		}
	}
	return first, firstSchema
}

func parseAssociation(a Association, namespace string, resolve func(string) string) *models.Association {
	assoc := &models.Association{Name: a.Name, Namespace: namespace}
	for _, end := range a.Ends {
		assoc.Ends = append(assoc.Ends, &models.AssociationEnd{
			Role:         end.Role,
			Type:         resolve(end.Type),
			Multiplicity: end.Multiplicity,
		})
	}
	return assoc
}

func parseComplexType(ct ComplexType, namespace string, resolve func(string) string) *models.ComplexType {
	complexType := &models.ComplexType{
		Name:       ct.Name,
		Namespace:  namespace,
		BaseType:   resolve(ct.BaseType),
		OpenType:   ct.OpenType == "true",
		Properties: make([]*models.EntityProperty, 0, len(ct.Properties)),
	}
	for _, prop := range ct.Properties {
		complexType.Properties = append(complexType.Properties, &models.EntityProperty{
			Name:     prop.Name,
			Type:     resolve(prop.Type),
			Nullable: prop.Nullable != "false",
		})
	}
	return complexType
}

// parseEntityType converts XML entity type to model
func parseEntityType(et EntityType, namespace string, resolve func(string) string, associations map[string]*models.Association) *models.EntityType {
	entityType := &models.EntityType{
		Name:            et.Name,
		Namespace:       namespace,
		BaseType:        resolve(et.BaseType),
		Abstract:        et.Abstract == "true",
		OpenType:        et.OpenType == "true",
		HasStream:       et.HasStream == "true",
		Properties:      make([]*models.EntityProperty, 0, len(et.Properties)),
		KeyProperties:   make([]string, 0, len(et.Key.PropertyRefs)),
		NavigationProps: make([]*models.NavigationProperty, 0, len(et.NavigationProperties)),
	}

	// Parse key properties
	for _, keyRef := range et.Key.PropertyRefs {
		entityType.KeyProperties = append(entityType.KeyProperties, keyRef.Name)
	}

	// Parse properties
	for _, prop := range et.Properties {
		entityType.Properties = append(entityType.Properties, &models.EntityProperty{
			Name:     prop.Name,
			Type:     resolve(prop.Type),
			Nullable: prop.Nullable != "false", // Default to true if not specified
			IsKey:    contains(entityType.KeyProperties, prop.Name),
		})
	}

	// Parse navigation properties
	for _, navProp := range et.NavigationProperties {
		nav := &models.NavigationProperty{
			Name:         navProp.Name,
			Relationship: resolve(navProp.Relationship),
			ToRole:       navProp.ToRole,
			FromRole:     navProp.FromRole,
		}
		if assoc, ok := associations[nav.Relationship]; ok {
			for _, end := range assoc.Ends {
				if end.Role == nav.ToRole {
					nav.ToType = end.Type
					nav.Many = end.Multiplicity == "*"
				}
			}
		}
		entityType.NavigationProps = append(entityType.NavigationProps, nav)
	}

	return entityType
}

// parseEntitySet converts XML entity set to model
func parseEntitySet(es EntitySet, resolve func(string) string) *models.EntitySet {
	return &models.EntitySet{
		Name:       es.Name,
		EntityType: resolve(es.EntityType),
		Creatable:  es.Creatable != "false", // Default to true
		Updatable:  es.Updatable != "false", // Default to true
		Deletable:  es.Deletable != "false", // Default to true
		Searchable: es.Searchable == "true", // Default to false
		Pageable:   es.Pageable != "false",  // Default to true
	}
}

// parseFunctionImport converts XML function import to model
func parseFunctionImport(fi FunctionImport, resolve func(string) string) *models.FunctionImport {
	functionImport := &models.FunctionImport{
		Name:            fi.Name,
		HTTPMethod:      fi.HTTPMethod,
		ReturnType:      resolve(fi.ReturnType),
		EntitySet:       fi.EntitySet,
		IsBindable:      fi.IsBindable == "true",
		IsSideEffecting: fi.IsSideEffecting != "false",
		Parameters:      make([]*models.FunctionParameter, 0, len(fi.Parameters)),
	}

	// v3 functions without side effects are invoked with GET, actions with POST
	if functionImport.HTTPMethod == "" {
		functionImport.HTTPMethod = constants.POST
		if fi.IsSideEffecting == "false" {
			functionImport.HTTPMethod = constants.GET
		}
	}

	for _, param := range fi.Parameters {
		parameter := &models.FunctionParameter{
			Name:     param.Name,
			Type:     resolve(param.Type),
			Mode:     param.Mode,
			Nullable: param.Nullable != "false", // Default to true
		}
		if parameter.Mode == "" {
			parameter.Mode = "In"
		}
		functionImport.Parameters = append(functionImport.Parameters, parameter)
	}

	return functionImport
}

// resolveAlias rewrites an alias-qualified type reference, including
// inside Collection(...), to its namespace-qualified form.
func resolveAlias(name string, aliases map[string]string) string {
	if inner, ok := strings.CutPrefix(name, "Collection("); ok && strings.HasSuffix(inner, ")") {
		return "Collection(" + resolveAlias(strings.TrimSuffix(inner, ")"), aliases) + ")"
	}
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return name
	}
	if ns, ok := aliases[name[:i]]; ok {
		return ns + name[i:]
	}
	return name
}

func qualify(namespace, name string) string {
	if namespace == "" {
		return name
	}
	return namespace + "." + name
}

// contains checks if a slice contains a string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
