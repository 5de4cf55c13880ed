// Package constants holds the OData v3 protocol vocabulary shared by the
// URI builder, the wire codecs and the HTTP client.
package constants

// XML namespaces
const (
	EdmNamespace          = "http://schemas.microsoft.com/ado/2009/11/edm"
	EdmNamespaceV2        = "http://schemas.microsoft.com/ado/2008/09/edm"
	EdmNamespaceV1        = "http://schemas.microsoft.com/ado/2006/04/edm"
	EdmxNamespace         = "http://schemas.microsoft.com/ado/2007/06/edmx"
	AtomNamespace         = "http://www.w3.org/2005/Atom"
	AppNamespace          = "http://www.w3.org/2007/app"
	DataNamespace         = "http://schemas.microsoft.com/ado/2007/08/dataservices"
	MetadataNamespace     = "http://schemas.microsoft.com/ado/2007/08/dataservices/metadata"
	SchemeNamespace       = "http://schemas.microsoft.com/ado/2007/08/dataservices/scheme"
	GMLNamespace          = "http://www.opengis.net/gml"
	XMLNamespace          = "http://www.w3.org/XML/1998/namespace"
	SAPNamespace          = "http://www.sap.com/Protocols/SAPData"
	RelatedRelPrefix      = DataNamespace + "/related/"
	RelatedLinksRelPrefix = DataNamespace + "/relatedlinks/"
	EditMediaRelPrefix    = DataNamespace + "/edit-media/"
	MediaResourceRel      = DataNamespace + "/mediaresource/"
)

// Atom link relations
const (
	RelEdit      = "edit"
	RelSelf      = "self"
	RelNext      = "next"
	RelEditMedia = "edit-media"
)

// HTTP methods supported by OData
const (
	GET    = "GET"
	POST   = "POST"
	PUT    = "PUT"
	PATCH  = "PATCH"
	MERGE  = "MERGE"
	DELETE = "DELETE"
)

// OData system query options
const (
	QueryFilter      = "$filter"
	QuerySelect      = "$select"
	QueryExpand      = "$expand"
	QueryOrderBy     = "$orderby"
	QueryTop         = "$top"
	QuerySkip        = "$skip"
	QueryFormat      = "$format"
	QuerySkipToken   = "$skiptoken"
	QueryInlineCount = "$inlinecount"
)

// Path segments
const (
	MetadataEndpoint = "$metadata"
	BatchEndpoint    = "$batch"
	ValueSegment     = "$value"
	CountSegment     = "$count"
	LinksSegment     = "$links"
)

// CSRF Token headers (SAP-specific)
const (
	CSRFTokenHeader = "X-CSRF-Token"
	CSRFTokenFetch  = "Fetch"
)

// HTTP headers
const (
	ContentType           = "Content-Type"
	Accept                = "Accept"
	UserAgent             = "User-Agent"
	IfMatch               = "If-Match"
	IfNoneMatch           = "If-None-Match"
	ETag                  = "ETag"
	RetryAfter            = "Retry-After"
	DataServiceVersion    = "DataServiceVersion"
	MaxDataServiceVersion = "MaxDataServiceVersion"
	XHTTPMethod           = "X-HTTP-Method"
	Prefer                = "Prefer"
)

// Content types
const (
	ContentTypeJSON      = "application/json"
	ContentTypeXML       = "application/xml"
	ContentTypeAtomXML   = "application/atom+xml"
	ContentTypeAtomEntry = "application/atom+xml;type=entry"
	ContentTypeAtomFeed  = "application/atom+xml;type=feed"
	ContentTypeText      = "text/plain"
	ContentTypeOctet     = "application/octet-stream"
)

// JSON light annotations. Entity-level names appear as object members;
// property-level names are suffixed onto the property name after "@".
const (
	JSONMetadata         = "odata.metadata"
	JSONType             = "odata.type"
	JSONID               = "odata.id"
	JSONETag             = "odata.etag"
	JSONEditLink         = "odata.editLink"
	JSONReadLink         = "odata.readLink"
	JSONMediaReadLink    = "odata.mediaReadLink"
	JSONMediaEditLink    = "odata.mediaEditLink"
	JSONMediaContentType = "odata.mediaContentType"
	JSONMediaETag        = "odata.mediaEtag"
	JSONNavigationLink   = "odata.navigationLinkUrl"
	JSONAssociationLink  = "odata.associationLinkUrl"
	JSONCount            = "odata.count"
	JSONNextLink         = "odata.nextLink"
	JSONError            = "odata.error"
	JSONValue            = "value"
	JSONUrl              = "url"
	JSONOperationTitle   = "title"
	JSONOperationTarget  = "target"
)

// Protocol versions sent on every request.
const (
	ProtocolVersion    = "3.0"
	MaxProtocolVersion = "3.0"
)

// Default values
const (
	DefaultUserAgent       = "odata-client/1.0 (Go)"
	DefaultTimeout         = 30              // seconds
	DefaultMaxResponseSize = 32 << 20        // 32MB, SAP $metadata documents run large
)

// Error messages
const (
	ErrInvalidServiceURL  = "invalid service URL"
	ErrMetadataNotFound   = "metadata not found"
	ErrEntitySetNotFound  = "entity set not found"
	ErrEntityTypeNotFound = "entity type not found"
	ErrFunctionNotFound   = "function import not found"
	ErrCSRFTokenFailed    = "CSRF token fetch failed"
	ErrRequestFailed      = "HTTP request failed"
)
