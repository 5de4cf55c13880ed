package test

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/zmcp/odata-client/internal/codec"
	"github.com/zmcp/odata-client/internal/constants"
	"github.com/zmcp/odata-client/internal/edm"
	"github.com/zmcp/odata-client/internal/entity"
	"github.com/zmcp/odata-client/internal/metadata"
)

const (
	productType = "ODataDemo.Product"
	pageSize    = 2
)

type product struct {
	ID       int32
	Name     string
	Release  time.Time
	Rating   int16
	Price    decimal.Decimal
	Stock    int64
	Category int32 // 0 when unlinked
	version  int
}

func (p *product) etag() string {
	return fmt.Sprintf(`W/"%d"`, p.version)
}

// catalog is an in-memory OData v3 service over the demo model. It
// answers in whatever format the request asks for, using the same
// codecs as the client.
type catalog struct {
	t      *testing.T
	server *httptest.Server
	model  *metadata.Model
	meta   []byte

	mu            sync.Mutex
	products      map[int32]*product
	csrfToken     string
	tokenFetches  int
	csrfRejects   int
	rotateToken   bool
	requestsByKey map[string]int
}

var keyPath = regexp.MustCompile(`^/Products\((\d+)\)(?:/(.*))?$`)

func newCatalog(t *testing.T) *catalog {
	t.Helper()
	meta, err := os.ReadFile("../metadata/testdata/demo.xml")
	require.NoError(t, err)

	c := &catalog{
		t:             t,
		meta:          meta,
		products:      make(map[int32]*product),
		csrfToken:     "tok-1",
		requestsByKey: make(map[string]int),
	}
	release := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, name := range []string{"Bread", "Milk", "Vint soda"} {
		id := int32(i + 1)
		c.products[id] = &product{
			ID:      id,
			Name:    name,
			Release: release.AddDate(0, i, 0),
			Rating:  int16(3 + i%2),
			Price:   decimal.RequireFromString("2.5").Add(decimal.NewFromInt(int64(i))),
			Stock:   int64(100 * (i + 1)),
			version: 1,
		}
	}
	c.server = httptest.NewServer(http.HandlerFunc(c.serveHTTP))
	t.Cleanup(c.server.Close)

	c.model, err = metadata.Load(meta, c.server.URL)
	require.NoError(t, err)
	return c
}

func (c *catalog) URL() string { return c.server.URL }

func (c *catalog) requests(method, path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requestsByKey[method+" "+path]
}

// codec picks the response codec from the Accept header, or the request
// codec from Content-Type.
func (c *catalog) codec(mediaType string) codec.Codec {
	f, l := codec.FormatJSON, codec.LevelMinimal
	if strings.Contains(mediaType, "atom") || strings.HasPrefix(mediaType, constants.ContentTypeXML) {
		f, l = codec.FormatAtom, codec.LevelFull
	} else if pf, pl, err := codec.ParseContentType(mediaType); err == nil {
		f, l = pf, pl
	}
	return codec.New(f, l,
		codec.WithServiceRoot(c.server.URL),
		codec.WithMetadata(c.model),
		codec.WithEntitySet("Products"),
	)
}

func (c *catalog) toEntity(p *product) *entity.Entity {
	e := entity.New(productType)
	e.ID = fmt.Sprintf("%s/Products(%d)", c.server.URL, p.ID)
	e.EditLink = fmt.Sprintf("Products(%d)", p.ID)
	e.ETag = p.etag()
	e.SetProperty("ID", edm.NewInt32(p.ID))
	e.SetProperty("Name", edm.NewString(p.Name))
	e.SetProperty("ReleaseDate", edm.NewDateTime(p.Release))
	e.SetProperty("Rating", edm.NewInt16(p.Rating))
	e.SetProperty("Price", edm.NewDecimal(p.Price))
	e.SetProperty("Stock", edm.NewInt64(p.Stock))
	e.AddLink(entity.NewNavigationLink("Category", e.EditLink+"/Category"))
	return e
}

// apply copies the properties present in e onto p.
func apply(p *product, e *entity.Entity) {
	for _, prop := range e.Properties() {
		v, ok := prop.Value.(*edm.Primitive)
		if !ok {
			continue
		}
		switch x := v.Value().(type) {
		case int32:
			if prop.Name == "ID" {
				p.ID = x
			}
		case string:
			p.Name = x
		case time.Time:
			p.Release = x
		case int16:
			p.Rating = x
		case decimal.Decimal:
			p.Price = x
		case int64:
			p.Stock = x
		}
	}
}

func (c *catalog) serveHTTP(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requestsByKey[r.Method+" "+r.URL.Path]++

	if r.Method == http.MethodGet && r.Header.Get(constants.CSRFTokenHeader) == constants.CSRFTokenFetch {
		c.tokenFetches++
		w.Header().Set(constants.CSRFTokenHeader, c.csrfToken)
		http.SetCookie(w, &http.Cookie{Name: "SAP_SESSIONID", Value: "s-" + c.csrfToken})
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodGet {
		if c.rotateToken {
			c.rotateToken = false
			c.csrfToken += "-rotated"
		}
		if r.Header.Get(constants.CSRFTokenHeader) != c.csrfToken {
			c.csrfRejects++
			w.Header().Set(constants.CSRFTokenHeader, "Required")
			w.WriteHeader(http.StatusForbidden)
			io.WriteString(w, "CSRF token validation failed")
			return
		}
	}

	if v := r.Header.Get(constants.DataServiceVersion); v != constants.ProtocolVersion {
		c.fail(w, http.StatusBadRequest, "BadVersion", "unsupported DataServiceVersion "+v)
		return
	}

	switch path := r.URL.Path; {
	case path == "/$metadata":
		w.Header().Set(constants.ContentType, constants.ContentTypeXML)
		w.Write(c.meta)
	case path == "/Products" && r.Method == http.MethodGet:
		c.feed(w, r, c.page(r))
	case path == "/Products/$count":
		w.Header().Set(constants.ContentType, constants.ContentTypeText)
		fmt.Fprint(w, len(c.products))
	case path == "/Products" && r.Method == http.MethodPost:
		c.create(w, r)
	case path == "/GetProductsByRating":
		rating, err := strconv.Atoi(r.URL.Query().Get("rating"))
		if err != nil {
			c.fail(w, http.StatusBadRequest, "BadParameter", "rating must be an integer")
			return
		}
		var set []*product
		for _, p := range c.sorted() {
			if int(p.Rating) == rating {
				set = append(set, p)
			}
		}
		c.feed(w, r, set)
	case keyPath.MatchString(path):
		m := keyPath.FindStringSubmatch(path)
		id, _ := strconv.Atoi(m[1])
		p, ok := c.products[int32(id)]
		if !ok {
			c.fail(w, http.StatusNotFound, "NotFound", fmt.Sprintf("Resource not found for the segment 'Products(%d)'", id))
			return
		}
		c.item(w, r, p, m[2])
	default:
		c.fail(w, http.StatusNotFound, "NotFound", "no resource at "+path)
	}
}

func (c *catalog) sorted() []*product {
	out := make([]*product, 0, len(c.products))
	for _, p := range c.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// page returns the products after $skiptoken, pageSize at a time.
func (c *catalog) page(r *http.Request) []*product {
	after, _ := strconv.Atoi(r.URL.Query().Get(constants.QuerySkipToken))
	var out []*product
	for _, p := range c.sorted() {
		if int(p.ID) > after {
			out = append(out, p)
		}
	}
	return out
}

func (c *catalog) feed(w http.ResponseWriter, r *http.Request, products []*product) {
	set := entity.NewEntitySet()
	if r.URL.Query().Get(constants.QueryInlineCount) == "allpages" {
		set.SetCount(int64(len(products)))
	}
	for i, p := range products {
		if i == pageSize && r.URL.Path == "/Products" {
			set.Next = fmt.Sprintf("Products?$skiptoken=%d", products[i-1].ID)
			break
		}
		set.Add(c.toEntity(p))
	}
	cd := c.codec(r.Header.Get(constants.Accept))
	data, err := cd.EncodeEntitySet(set)
	c.write(w, cd, http.StatusOK, data, err)
}

func (c *catalog) item(w http.ResponseWriter, r *http.Request, p *product, rest string) {
	cd := c.codec(r.Header.Get(constants.Accept))
	switch {
	case rest == "" && r.Method == http.MethodGet:
		w.Header().Set(constants.ETag, p.etag())
		data, err := cd.EncodeEntity(c.toEntity(p))
		c.write(w, cd, http.StatusOK, data, err)
	case rest == "" && r.Method == http.MethodDelete:
		if !c.matches(w, r, p) {
			return
		}
		delete(c.products, p.ID)
		w.WriteHeader(http.StatusNoContent)
	case rest == "":
		c.update(w, r, p)
	case rest == "Name/$value":
		w.Header().Set(constants.ContentType, constants.ContentTypeText)
		io.WriteString(w, p.Name)
	case rest == "Name" || rest == "Price":
		e := c.toEntity(p)
		prop, _ := e.Property(rest)
		data, err := cd.EncodeProperty(prop)
		c.write(w, cd, http.StatusOK, data, err)
	case rest == "$links/Category" && r.Method == http.MethodGet:
		if p.Category == 0 {
			c.fail(w, http.StatusNoContent, "", "")
			return
		}
		data, err := cd.EncodeReference(fmt.Sprintf("%s/Categories(%d)", c.server.URL, p.Category))
		c.write(w, cd, http.StatusOK, data, err)
	case rest == "$links/Category":
		body, _ := io.ReadAll(r.Body)
		refs, err := c.codec(r.Header.Get(constants.ContentType)).DecodeReferences(body)
		if err != nil || len(refs) != 1 {
			c.fail(w, http.StatusBadRequest, "BadLink", fmt.Sprintf("invalid reference: %v", err))
			return
		}
		m := regexp.MustCompile(`Categories\((\d+)\)$`).FindStringSubmatch(refs[0])
		if m == nil {
			c.fail(w, http.StatusBadRequest, "BadLink", "not a category: "+refs[0])
			return
		}
		id, _ := strconv.Atoi(m[1])
		p.Category = int32(id)
		w.WriteHeader(http.StatusNoContent)
	default:
		c.fail(w, http.StatusNotFound, "NotFound", "no resource at "+rest)
	}
}

func (c *catalog) create(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	in := c.codec(r.Header.Get(constants.ContentType))
	e, err := in.DecodeEntity(body)
	if err != nil {
		c.fail(w, http.StatusBadRequest, "BadPayload", err.Error())
		return
	}
	p := &product{version: 1}
	apply(p, e)
	if p.ID == 0 {
		p.ID = int32(len(c.products) + 1)
	}
	if _, exists := c.products[p.ID]; exists {
		c.fail(w, http.StatusConflict, "Conflict", fmt.Sprintf("product %d exists", p.ID))
		return
	}
	c.products[p.ID] = p

	w.Header().Set("Location", fmt.Sprintf("%s/Products(%d)", c.server.URL, p.ID))
	if r.Header.Get(constants.Prefer) == "return-no-content" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	out := c.codec(r.Header.Get(constants.Accept))
	data, err := out.EncodeEntity(c.toEntity(p))
	c.write(w, out, http.StatusCreated, data, err)
}

func (c *catalog) update(w http.ResponseWriter, r *http.Request, p *product) {
	if !c.matches(w, r, p) {
		return
	}
	body, _ := io.ReadAll(r.Body)
	e, err := c.codec(r.Header.Get(constants.ContentType)).DecodeEntity(body)
	if err != nil {
		c.fail(w, http.StatusBadRequest, "BadPayload", err.Error())
		return
	}
	if r.Method == http.MethodPut {
		*p = product{ID: p.ID, Category: p.Category, version: p.version}
	}
	id := p.ID
	apply(p, e)
	p.ID = id
	p.version++
	w.Header().Set(constants.ETag, p.etag())
	w.WriteHeader(http.StatusNoContent)
}

// matches enforces If-Match when the client sent one.
func (c *catalog) matches(w http.ResponseWriter, r *http.Request, p *product) bool {
	if m := r.Header.Get(constants.IfMatch); m != "" && m != "*" && m != p.etag() {
		c.fail(w, http.StatusPreconditionFailed, "PreconditionFailed",
			fmt.Sprintf("ETag %s does not match %s", m, p.etag()))
		return false
	}
	return true
}

func (c *catalog) write(w http.ResponseWriter, cd codec.Codec, status int, data []byte, err error) {
	if err != nil {
		c.t.Errorf("catalog: encode: %v", err)
		c.fail(w, http.StatusInternalServerError, "EncodeFailed", err.Error())
		return
	}
	w.Header().Set(constants.ContentType, cd.ContentType())
	w.Header().Set(constants.DataServiceVersion, constants.ProtocolVersion)
	w.WriteHeader(status)
	w.Write(data)
}

func (c *catalog) fail(w http.ResponseWriter, status int, code, message string) {
	if code == "" {
		w.WriteHeader(status)
		return
	}
	w.Header().Set(constants.ContentType, constants.ContentTypeJSON)
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"odata.error":{"code":%q,"message":{"lang":"en-US","value":%q}}}`, code, message)
}
