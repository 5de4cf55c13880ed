package edm

import "strings"

// PrimitiveType identifies an EDM primitive type.
type PrimitiveType int

const (
	TypeBinary PrimitiveType = iota
	TypeBoolean
	TypeByte
	TypeDateTime
	TypeDateTimeOffset
	TypeDecimal
	TypeDouble
	TypeGuid
	TypeInt16
	TypeInt32
	TypeInt64
	TypeSByte
	TypeSingle
	TypeString
	TypeTime
	TypeGeography
	TypeGeometry
)

const (
	// Namespace is the prefix shared by all built-in type names.
	Namespace = "Edm."

	collectionPrefix = "Collection("
)

var primitiveNames = map[PrimitiveType]string{
	TypeBinary:         "Edm.Binary",
	TypeBoolean:        "Edm.Boolean",
	TypeByte:           "Edm.Byte",
	TypeDateTime:       "Edm.DateTime",
	TypeDateTimeOffset: "Edm.DateTimeOffset",
	TypeDecimal:        "Edm.Decimal",
	TypeDouble:         "Edm.Double",
	TypeGuid:           "Edm.Guid",
	TypeInt16:          "Edm.Int16",
	TypeInt32:          "Edm.Int32",
	TypeInt64:          "Edm.Int64",
	TypeSByte:          "Edm.SByte",
	TypeSingle:         "Edm.Single",
	TypeString:         "Edm.String",
	TypeTime:           "Edm.Time",
	TypeGeography:      "Edm.Geography",
	TypeGeometry:       "Edm.Geometry",
}

var primitiveByName = func() map[string]PrimitiveType {
	m := make(map[string]PrimitiveType, len(primitiveNames))
	for t, name := range primitiveNames {
		m[name] = t
	}
	return m
}()

// Name returns the qualified type name, e.g. "Edm.Int32".
func (t PrimitiveType) Name() string {
	if name, ok := primitiveNames[t]; ok {
		return name
	}
	return "Edm.Unknown"
}

func (t PrimitiveType) String() string {
	return t.Name()
}

// IsGeo reports whether t is one of the geospatial families.
func (t PrimitiveType) IsGeo() bool {
	return t == TypeGeography || t == TypeGeometry
}

// LookupPrimitive resolves a qualified primitive type name. Geospatial
// subtypes such as Edm.GeographyPoint resolve to their family; the shape
// is returned as the second result (ShapeUnknown for the bare family).
func LookupPrimitive(name string) (PrimitiveType, ShapeKind, bool) {
	if t, ok := primitiveByName[name]; ok {
		return t, ShapeUnknown, true
	}
	for _, dim := range []Dimension{Geography, Geometry} {
		prefix := Namespace + dim.String()
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		if shape, ok := shapeByName[name[len(prefix):]]; ok {
			return dim.primitiveType(), shape, true
		}
	}
	return 0, ShapeUnknown, false
}

// IsPrimitiveName reports whether name is a built-in primitive type.
func IsPrimitiveName(name string) bool {
	_, _, ok := LookupPrimitive(name)
	return ok
}

// CollectionItemType returns the item type of a "Collection(T)" name.
func CollectionItemType(name string) (string, bool) {
	if strings.HasPrefix(name, collectionPrefix) && strings.HasSuffix(name, ")") {
		return name[len(collectionPrefix) : len(name)-1], true
	}
	return "", false
}

// CollectionTypeName wraps an item type name as "Collection(T)".
func CollectionTypeName(item string) string {
	return collectionPrefix + item + ")"
}
