package client

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-json-experiment/json"

	"github.com/zmcp/odata-client/internal/codec"
	"github.com/zmcp/odata-client/internal/constants"
	"github.com/zmcp/odata-client/internal/entity"
	"github.com/zmcp/odata-client/internal/metadata"
	"github.com/zmcp/odata-client/internal/models"
	"github.com/zmcp/odata-client/internal/uri"
)

// Result is a response whose shape depends on what was called: an
// operation result or a raw $value.
type Result struct {
	StatusCode  int
	ContentType string
	ETag        string
	Body        []byte

	codec codec.Codec
}

func (r *Result) Entity() (*entity.Entity, error) {
	return r.codec.DecodeEntity(r.Body)
}

func (r *Result) EntitySet() (*entity.EntitySet, error) {
	return r.codec.DecodeEntitySet(r.Body)
}

func (r *Result) Property() (entity.Property, error) {
	return r.codec.DecodeProperty(r.Body)
}

// writeOptions collects per-request settings of write operations.
type writeOptions struct {
	prefer  string
	ifMatch *string
}

// WriteOption adjusts a create, update or delete request.
type WriteOption func(*writeOptions)

// ReturnContent asks the service to send the written entity back.
func ReturnContent() WriteOption {
	return func(o *writeOptions) { o.prefer = "return-content" }
}

// ReturnNoContent asks the service to answer 204 without a body.
func ReturnNoContent() WriteOption {
	return func(o *writeOptions) { o.prefer = "return-no-content" }
}

// IfMatch overrides the entity ETag sent in If-Match. "*" matches any
// version; "" sends no If-Match header.
func IfMatch(etag string) WriteOption {
	return func(o *writeOptions) { o.ifMatch = &etag }
}

func (o *writeOptions) headers(etag string) map[string][]string {
	h := make(map[string][]string)
	if o.prefer != "" {
		h[constants.Prefer] = []string{o.prefer}
	}
	if o.ifMatch != nil {
		etag = *o.ifMatch
	}
	if etag != "" {
		h[constants.IfMatch] = []string{etag}
	}
	return h
}

func newWriteOptions(opts []WriteOption) *writeOptions {
	o := &writeOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// decode runs fn over the response body with a codec matching the
// response, counting failures.
func decode[T any](ctx context.Context, c *Client, res *response, r uri.Resource, fn func(codec.Codec, []byte) (T, error)) (T, error) {
	cd := c.responseCodec(res, r)
	v, err := fn(cd, res.body)
	if err != nil {
		c.telemetry.recordDecodeFailure(ctx, cd.Format().String())
		var zero T
		return zero, fmt.Errorf("failed to decode response: %w", err)
	}
	return v, nil
}

// get sends a GET for b and fails on a non-2xx status.
func (c *Client) get(ctx context.Context, op string, b *uri.Builder, accept string) (*response, error) {
	target, err := b.Build()
	if err != nil {
		return nil, err
	}
	res, err := c.do(ctx, request{op: op, method: constants.GET, target: target, accept: accept})
	if err != nil {
		return nil, err
	}
	if err := res.check(); err != nil {
		return nil, err
	}
	return res, nil
}

// GetMetadata fetches and parses $metadata once; later calls return the
// cached model.
func (c *Client) GetMetadata(ctx context.Context) (*metadata.Model, error) {
	c.mu.RLock()
	model := c.model
	c.mu.RUnlock()
	if model != nil {
		return model, nil
	}

	res, err := c.get(ctx, "GetMetadata", c.URI().AppendMetadataSegment(), constants.ContentTypeXML)
	if err != nil {
		return nil, err
	}
	model, err = metadata.Load(res.body, c.root)
	if err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}

	c.mu.Lock()
	if c.model == nil {
		c.model = model
	}
	model = c.model
	c.mu.Unlock()
	return model, nil
}

// GetEntitySet reads one page of the feed b addresses.
func (c *Client) GetEntitySet(ctx context.Context, b *uri.Builder) (*entity.EntitySet, error) {
	res, err := c.get(ctx, "GetEntitySet", b, "")
	if err != nil {
		return nil, err
	}
	return decode(ctx, c, res, b.Resource(), codec.Codec.DecodeEntitySet)
}

// GetNextPage follows page's next link. b is the builder the first page
// was read with; it supplies the type hints. It returns ErrNoNextPage on
// the last page.
func (c *Client) GetNextPage(ctx context.Context, b *uri.Builder, page *entity.EntitySet) (*entity.EntitySet, error) {
	if page == nil || !page.HasNext() {
		return nil, ErrNoNextPage
	}
	target, err := c.resolve(page.Next)
	if err != nil {
		return nil, err
	}
	res, err := c.do(ctx, request{op: "GetNextPage", method: constants.GET, target: target})
	if err != nil {
		return nil, err
	}
	if err := res.check(); err != nil {
		return nil, err
	}
	return decode(ctx, c, res, b.Resource(), codec.Codec.DecodeEntitySet)
}

// GetEntity reads the single entity b addresses.
func (c *Client) GetEntity(ctx context.Context, b *uri.Builder) (*entity.Entity, error) {
	res, err := c.get(ctx, "GetEntity", b, "")
	if err != nil {
		return nil, err
	}
	e, err := decode(ctx, c, res, b.Resource(), codec.Codec.DecodeEntity)
	if err != nil {
		return nil, err
	}
	if e.ETag == "" {
		e.ETag = res.header.Get(constants.ETag)
	}
	return e, nil
}

// GetProperty reads one property. JSON payloads do not carry the name,
// so it is taken from the last structural segment of b.
func (c *Client) GetProperty(ctx context.Context, b *uri.Builder) (entity.Property, error) {
	res, err := c.get(ctx, "GetProperty", b, "")
	if err != nil {
		return entity.Property{}, err
	}
	r := b.Resource()
	p, err := decode(ctx, c, res, r, codec.Codec.DecodeProperty)
	if err != nil {
		return entity.Property{}, err
	}
	if p.Name == "" {
		p.Name = r.Property
	}
	return p, nil
}

// GetValue reads a raw value: Entity(1)/Name/$value or the media
// resource at Entity(1)/$value.
func (c *Client) GetValue(ctx context.Context, b *uri.Builder) (*Result, error) {
	res, err := c.get(ctx, "GetValue", b, "*/*")
	if err != nil {
		return nil, err
	}
	return c.result(res, b.Resource()), nil
}

// GetCount returns the number of entities in the set b addresses,
// honouring its $filter.
func (c *Client) GetCount(ctx context.Context, b *uri.Builder) (int64, error) {
	res, err := c.get(ctx, "GetCount", b.Clone().AppendCountSegment(), constants.ContentTypeText)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(strings.TrimSpace(string(res.body)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid $count response %q: %w", truncate(res.body), err)
	}
	return n, nil
}

// CreateEntity posts e to the set b addresses. It returns the entity the
// service sent back, or nil when the service answered without content.
func (c *Client) CreateEntity(ctx context.Context, b *uri.Builder, e *entity.Entity, opts ...WriteOption) (*entity.Entity, error) {
	target, err := b.Build()
	if err != nil {
		return nil, err
	}
	r := b.Resource()
	cd := c.Codec(r)
	body, err := cd.EncodeEntity(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode entity: %w", err)
	}

	o := newWriteOptions(opts)
	res, err := c.do(ctx, request{
		op:          "CreateEntity",
		method:      constants.POST,
		target:      target,
		body:        body,
		contentType: entryContentType(cd),
		header:      o.headers(""),
	})
	if err != nil {
		return nil, err
	}
	if err := res.check(); err != nil {
		return nil, err
	}
	if len(res.body) == 0 {
		return nil, nil
	}
	return decode(ctx, c, res, r, codec.Codec.DecodeEntity)
}

// UpdateEntity replaces (PUT) or merges (PATCH, MERGE) e into the entity
// b addresses. e.ETag is sent as If-Match unless IfMatch overrides it.
func (c *Client) UpdateEntity(ctx context.Context, b *uri.Builder, e *entity.Entity, method string, opts ...WriteOption) (*entity.Entity, error) {
	switch method {
	case "":
		method = constants.PUT
	case constants.PUT, constants.PATCH, constants.MERGE:
	default:
		return nil, fmt.Errorf("unsupported update method %q", method)
	}
	target, err := b.Build()
	if err != nil {
		return nil, err
	}
	r := b.Resource()
	cd := c.Codec(r)
	body, err := cd.EncodeEntity(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode entity: %w", err)
	}

	o := newWriteOptions(opts)
	res, err := c.do(ctx, request{
		op:          "UpdateEntity",
		method:      method,
		target:      target,
		body:        body,
		contentType: entryContentType(cd),
		header:      o.headers(e.ETag),
	})
	if err != nil {
		return nil, err
	}
	if err := res.check(); err != nil {
		return nil, err
	}
	if len(res.body) == 0 {
		return nil, nil
	}
	return decode(ctx, c, res, r, codec.Codec.DecodeEntity)
}

// DeleteEntity deletes the entity b addresses. A non-empty etag is sent
// as If-Match.
func (c *Client) DeleteEntity(ctx context.Context, b *uri.Builder, etag string) error {
	target, err := b.Build()
	if err != nil {
		return err
	}
	o := &writeOptions{}
	res, err := c.do(ctx, request{op: "DeleteEntity", method: constants.DELETE, target: target, header: o.headers(etag)})
	if err != nil {
		return err
	}
	return res.check()
}

// AddLink relates the entity b addresses to the entity at targetURI
// through navigation. Collection-valued navigations are POSTed, single
// ones PUT; without metadata POST is used.
func (c *Client) AddLink(ctx context.Context, b *uri.Builder, navigation, targetURI string) error {
	method := constants.POST
	if l := c.Lookup(); l != nil {
		if _, many, ok := l.NavigationTarget(resourceType(l, b.Resource()), navigation); ok && !many {
			method = constants.PUT
		}
	}

	lb := b.Clone().AppendLinksSegment(navigation)
	target, err := lb.Build()
	if err != nil {
		return err
	}
	cd := c.Codec(lb.Resource())
	body, err := cd.EncodeReference(targetURI)
	if err != nil {
		return fmt.Errorf("failed to encode link: %w", err)
	}
	res, err := c.do(ctx, request{op: "AddLink", method: method, target: target, body: body, contentType: linkContentType(cd)})
	if err != nil {
		return err
	}
	return res.check()
}

// GetLinks returns the URIs of the entities related to b through
// navigation.
func (c *Client) GetLinks(ctx context.Context, b *uri.Builder, navigation string) ([]string, error) {
	lb := b.Clone().AppendLinksSegment(navigation)
	accept := ""
	if c.format == codec.FormatAtom {
		accept = constants.ContentTypeXML
	}
	res, err := c.get(ctx, "GetLinks", lb, accept)
	if err != nil {
		return nil, err
	}
	return decode(ctx, c, res, lb.Resource(), codec.Codec.DecodeReferences)
}

// InvokeOperation invokes an action the service advertised on an entity.
// The operation's target is used when present; otherwise the operation
// name is appended to b. params are sent as a JSON object.
func (c *Client) InvokeOperation(ctx context.Context, b *uri.Builder, op entity.Operation, params map[string]any) (*Result, error) {
	target := op.Target
	if target == "" {
		name := op.Metadata
		if i := strings.LastIndexByte(name, '#'); i >= 0 {
			name = name[i+1:]
		}
		if i := strings.LastIndexByte(name, '.'); i >= 0 {
			name = name[i+1:]
		}
		var err error
		if target, err = b.Clone().AppendOperationSegment(name).Build(); err != nil {
			return nil, err
		}
	} else {
		var err error
		if target, err = c.resolve(target); err != nil {
			return nil, err
		}
	}

	var body []byte
	if len(params) > 0 {
		var err error
		if body, err = json.Marshal(params, json.Deterministic(true)); err != nil {
			return nil, fmt.Errorf("failed to encode parameters: %w", err)
		}
	}
	method := constants.POST
	if op.Kind == entity.OperationFunction && body == nil {
		method = constants.GET
	}

	res, err := c.do(ctx, request{
		op:          "InvokeOperation",
		method:      method,
		target:      target,
		body:        body,
		contentType: constants.ContentTypeJSON,
	})
	if err != nil {
		return nil, err
	}
	if err := res.check(); err != nil {
		return nil, err
	}
	return c.result(res, b.Resource()), nil
}

// CallFunction calls a function import. The HTTP method and result
// entity set come from metadata, which is fetched if needed. Parameters
// go in the query string.
func (c *Client) CallFunction(ctx context.Context, name string, params map[string]any) (*Result, error) {
	fi, err := c.functionImport(ctx, name)
	if err != nil {
		return nil, err
	}

	b := c.URI().AppendFunctionImportSegment(fi.Name)
	for _, p := range fi.Parameters {
		if v, ok := params[p.Name]; ok {
			b.FunctionParameter(p.Name, v)
		}
	}
	for k := range params {
		if !hasParameter(fi, k) {
			return nil, fmt.Errorf("function import %s has no parameter %q", fi.Name, k)
		}
	}
	target, err := b.Build()
	if err != nil {
		return nil, err
	}

	res, err := c.do(ctx, request{op: "CallFunction", method: fi.HTTPMethod, target: target})
	if err != nil {
		return nil, err
	}
	if err := res.check(); err != nil {
		return nil, err
	}
	return c.result(res, uri.Resource{EntitySet: fi.EntitySet}), nil
}

// functionImportSource is implemented by lookups that also know the
// service's function imports, as *metadata.Model does.
type functionImportSource interface {
	FunctionImport(name string) (*models.FunctionImport, bool)
}

func (c *Client) functionImport(ctx context.Context, name string) (*models.FunctionImport, error) {
	if src, ok := c.lookup.(functionImportSource); ok {
		if fi, ok := src.FunctionImport(name); ok {
			return fi, nil
		}
	}
	model, err := c.GetMetadata(ctx)
	if err != nil {
		return nil, err
	}
	fi, ok := model.FunctionImport(name)
	if !ok {
		return nil, fmt.Errorf("%s: %s", constants.ErrFunctionNotFound, name)
	}
	return fi, nil
}

func hasParameter(fi *models.FunctionImport, name string) bool {
	for _, p := range fi.Parameters {
		if p.Name == name {
			return true
		}
	}
	return false
}

func (c *Client) result(res *response, r uri.Resource) *Result {
	return &Result{
		StatusCode:  res.status,
		ContentType: res.header.Get(constants.ContentType),
		ETag:        res.header.Get(constants.ETag),
		Body:        res.body,
		codec:       c.responseCodec(res, r),
	}
}

func entryContentType(cd codec.Codec) string {
	if cd.Format() == codec.FormatAtom {
		return constants.ContentTypeAtomEntry
	}
	return cd.ContentType()
}

func linkContentType(cd codec.Codec) string {
	if cd.Format() == codec.FormatAtom {
		return constants.ContentTypeXML
	}
	return cd.ContentType()
}

func truncate(b []byte) string {
	if len(b) > 64 {
		return string(b[:64])
	}
	return string(b)
}
