package client

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zmcp/odata-client/internal/codec"
	"github.com/zmcp/odata-client/internal/edm"
	"github.com/zmcp/odata-client/internal/entity"
	"github.com/zmcp/odata-client/internal/metadata"
	"github.com/zmcp/odata-client/internal/uri"
)

func demoMetadata(t *testing.T) []byte {
	t.Helper()
	data, err := os.ReadFile("../metadata/testdata/demo.xml")
	require.NoError(t, err)
	return data
}

func demoModel(t *testing.T, root string) *metadata.Model {
	t.Helper()
	m, err := metadata.Load(demoMetadata(t), root)
	require.NoError(t, err)
	return m
}

// fakeService serves the CSRF handshake and $metadata, and hands every
// other request to handle.
func fakeService(t *testing.T, handle http.HandlerFunc) *httptest.Server {
	t.Helper()
	meta := demoMetadata(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == "GET" && r.Header.Get("X-CSRF-Token") == "Fetch":
			w.Header().Set("X-CSRF-Token", "tok-12345678")
			w.WriteHeader(http.StatusOK)
		case r.URL.Path == "/$metadata":
			w.Header().Set("Content-Type", "application/xml")
			w.Write(meta)
		default:
			handle(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json;odata=minimalmetadata")
	w.WriteHeader(status)
	io.WriteString(w, body)
}

func TestGetEntitySetAndNextPage(t *testing.T) {
	server := fakeService(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/Products", r.URL.Path)
		if r.URL.Query().Get("$skiptoken") == "" {
			assert.Equal(t, "1", r.URL.Query().Get("$top"))
			writeJSON(w, 200, `{"odata.metadata":"ROOT/$metadata#Products","value":[{"ID":1,"Name":"Bread","Price":"2.5"}],"odata.nextLink":"Products?$top=1&$skiptoken=1"}`)
			return
		}
		writeJSON(w, 200, `{"odata.metadata":"ROOT/$metadata#Products","value":[{"ID":2,"Name":"Milk","Price":"3.5"}]}`)
	})
	c := newTestClient(t, server.URL, WithMetadata(demoModel(t, server.URL)))
	ctx := context.Background()

	b := c.URI().AppendEntitySetSegment("Products").Top(1)
	page, err := c.GetEntitySet(ctx, b)
	require.NoError(t, err)
	require.Len(t, page.Entities, 1)
	assert.True(t, page.HasNext())
	price, ok := page.Entities[0].Property("Price")
	require.True(t, ok)
	assert.Equal(t, "Edm.Decimal", price.Value.TypeName())

	next, err := c.GetNextPage(ctx, b, page)
	require.NoError(t, err)
	require.Len(t, next.Entities, 1)
	name, _ := next.Entities[0].Property("Name")
	assert.True(t, edm.Equal(edm.NewString("Milk"), name.Value))
	assert.False(t, next.HasNext())

	_, err = c.GetNextPage(ctx, b, next)
	assert.ErrorIs(t, err, ErrNoNextPage)
}

func TestGetEntity(t *testing.T) {
	server := fakeService(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/Products(1)":
			w.Header().Set("ETag", `W/"5"`)
			writeJSON(w, 200, `{"odata.metadata":"ROOT/$metadata#Products/@Element","ID":1,"Name":"Bread","Rating":4}`)
		default:
			writeJSON(w, 404, `{"odata.error":{"code":"","message":{"lang":"en-US","value":"Resource not found."}}}`)
		}
	})
	c := newTestClient(t, server.URL, WithMetadata(demoModel(t, server.URL)))
	ctx := context.Background()

	e, err := c.GetEntity(ctx, c.URI().AppendEntitySetSegment("Products").AppendKeySegment(1))
	require.NoError(t, err)
	assert.Equal(t, `W/"5"`, e.ETag)
	rating, ok := e.Property("Rating")
	require.True(t, ok)
	assert.Equal(t, "Edm.Int16", rating.Value.TypeName())

	_, err = c.GetEntity(ctx, c.URI().AppendEntitySetSegment("Products").AppendKeySegment(99))
	assert.ErrorIs(t, err, ErrNotFound)
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "Resource not found.", pe.Message)
}

func TestGetEntityFollowsNavigation(t *testing.T) {
	server := fakeService(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/Products(1)/Supplier", r.URL.Path)
		writeJSON(w, 200, `{"ID":7,"Name":"Exotic Liquids","Location":{"type":"Point","coordinates":[-122.1,47.6]}}`)
	})
	c := newTestClient(t, server.URL, WithMetadata(demoModel(t, server.URL)))

	// No context URL: the type comes from walking Products -> Supplier.
	e, err := c.GetEntity(context.Background(),
		c.URI().AppendEntitySetSegment("Products").AppendKeySegment(1).AppendNavigationLinkSegment("Supplier"))
	require.NoError(t, err)
	loc, ok := e.Property("Location")
	require.True(t, ok)
	assert.Equal(t, "Edm.GeographyPoint", loc.Value.TypeName())
}

func TestGetPropertyValueAndCount(t *testing.T) {
	server := fakeService(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/Products(1)/Name":
			writeJSON(w, 200, `{"odata.metadata":"ROOT/$metadata#Edm.String","value":"Bread"}`)
		case "/Products(1)/Name/$value":
			w.Header().Set("Content-Type", "text/plain")
			io.WriteString(w, "Bread")
		case "/Products/$count":
			assert.Equal(t, "Price gt 2", r.URL.Query().Get("$filter"))
			w.Header().Set("Content-Type", "text/plain")
			io.WriteString(w, "42\n")
		default:
			w.WriteHeader(404)
		}
	})
	c := newTestClient(t, server.URL)
	ctx := context.Background()
	product := c.URI().AppendEntitySetSegment("Products").AppendKeySegment(1)

	p, err := c.GetProperty(ctx, product.Clone().AppendStructuralSegment("Name"))
	require.NoError(t, err)
	assert.Equal(t, "Name", p.Name)
	assert.True(t, edm.Equal(edm.NewString("Bread"), p.Value))

	v, err := c.GetValue(ctx, product.Clone().AppendStructuralSegment("Name").AppendValueSegment())
	require.NoError(t, err)
	assert.Equal(t, "Bread", string(v.Body))
	assert.Equal(t, "text/plain", v.ContentType)

	n, err := c.GetCount(ctx, c.URI().AppendEntitySetSegment("Products").RawFilter("Price gt 2"))
	require.NoError(t, err)
	assert.EqualValues(t, 42, n)
}

func TestCreateEntity(t *testing.T) {
	server := fakeService(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "tok-12345678", r.Header.Get("X-CSRF-Token"))
		assert.Equal(t, "application/json;odata=minimalmetadata", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `"Name":"Bread"`)

		if r.Header.Get("Prefer") == "return-no-content" {
			w.Header().Set("Location", "Products(3)")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, 201, `{"odata.metadata":"ROOT/$metadata#Products/@Element","ID":3,"Name":"Bread"}`)
	})
	c := newTestClient(t, server.URL)
	ctx := context.Background()

	e := entity.New("ODataDemo.Product")
	e.SetProperty("Name", edm.NewString("Bread"))
	set := c.URI().AppendEntitySetSegment("Products")

	created, err := c.CreateEntity(ctx, set, e, ReturnContent())
	require.NoError(t, err)
	id, ok := created.Property("ID")
	require.True(t, ok)
	assert.True(t, edm.Equal(edm.NewInt32(3), id.Value))

	created, err = c.CreateEntity(ctx, set, e, ReturnNoContent())
	require.NoError(t, err)
	assert.Nil(t, created)
}

func TestUpdateAndDeleteEntity(t *testing.T) {
	var lastIfMatch, lastMethod string
	server := fakeService(t, func(w http.ResponseWriter, r *http.Request) {
		lastIfMatch = r.Header.Get("If-Match")
		lastMethod = r.Method
		if lastIfMatch == `W/"stale"` {
			writeJSON(w, 412, `{"odata.error":{"code":"","message":{"lang":"en-US","value":"The etag value in the request header does not match."}}}`)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	c := newTestClient(t, server.URL)
	ctx := context.Background()
	target := c.URI().AppendEntitySetSegment("Products").AppendKeySegment(1)

	e := entity.New("ODataDemo.Product")
	e.ETag = `W/"1"`
	e.SetProperty("Name", edm.NewString("Rye"))

	updated, err := c.UpdateEntity(ctx, target, e, "MERGE")
	require.NoError(t, err)
	assert.Nil(t, updated)
	assert.Equal(t, "MERGE", lastMethod)
	assert.Equal(t, `W/"1"`, lastIfMatch)

	_, err = c.UpdateEntity(ctx, target, e, "", IfMatch("*"))
	require.NoError(t, err)
	assert.Equal(t, "PUT", lastMethod)
	assert.Equal(t, "*", lastIfMatch)

	e.ETag = `W/"stale"`
	_, err = c.UpdateEntity(ctx, target, e, "PATCH")
	assert.ErrorIs(t, err, ErrPreconditionFailed)

	_, err = c.UpdateEntity(ctx, target, e, "POST")
	assert.ErrorContains(t, err, "unsupported update method")

	require.NoError(t, c.DeleteEntity(ctx, target, ""))
	assert.Equal(t, "DELETE", lastMethod)
	assert.Empty(t, lastIfMatch)
}

func TestLinks(t *testing.T) {
	type call struct{ method, path, body string }
	var calls []call
	server := fakeService(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		calls = append(calls, call{r.Method, r.URL.Path, string(body)})
		if r.Method == "GET" {
			writeJSON(w, 200, `{"odata.metadata":"ROOT/$metadata#Products/$links/Products","value":[{"url":"Products(1)"},{"url":"Products(2)"}]}`)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	c := newTestClient(t, server.URL, WithMetadata(demoModel(t, server.URL)))
	ctx := context.Background()

	product := c.URI().AppendEntitySetSegment("Products").AppendKeySegment(1)
	category := c.URI().AppendEntitySetSegment("Categories").AppendKeySegment(2)

	require.NoError(t, c.AddLink(ctx, product, "Category", server.URL+"/Categories(2)"))
	require.NoError(t, c.AddLink(ctx, category, "Products", server.URL+"/Products(1)"))

	require.Len(t, calls, 2)
	assert.Equal(t, "PUT", calls[0].method)
	assert.Equal(t, "/Products(1)/$links/Category", calls[0].path)
	assert.JSONEq(t, `{"url":"`+server.URL+`/Categories(2)"}`, calls[0].body)
	assert.Equal(t, "POST", calls[1].method)
	assert.Equal(t, "/Categories(2)/$links/Products", calls[1].path)

	uris, err := c.GetLinks(ctx, category, "Products")
	require.NoError(t, err)
	assert.Equal(t, []string{"Products(1)", "Products(2)"}, uris)
}

func TestCallFunction(t *testing.T) {
	var metadataFetches int32
	meta := demoMetadata(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/$metadata":
			atomic.AddInt32(&metadataFetches, 1)
			w.Write(meta)
		case "/GetProductsByRating":
			assert.Equal(t, "GET", r.Method)
			assert.Equal(t, "4", r.URL.Query().Get("rating"))
			writeJSON(w, 200, `{"odata.metadata":"ROOT/$metadata#Products","value":[{"ID":1,"Rating":4}]}`)
		case "/MostExpensive":
			assert.Equal(t, "GET", r.Method)
			writeJSON(w, 200, `{"odata.metadata":"ROOT/$metadata#Products/@Element","ID":9,"Price":"99.5"}`)
		default:
			w.WriteHeader(404)
		}
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	ctx := context.Background()

	res, err := c.CallFunction(ctx, "GetProductsByRating", map[string]any{"rating": 4})
	require.NoError(t, err)
	set, err := res.EntitySet()
	require.NoError(t, err)
	require.Len(t, set.Entities, 1)
	rating, _ := set.Entities[0].Property("Rating")
	assert.Equal(t, "Edm.Int16", rating.Value.TypeName())

	res, err = c.CallFunction(ctx, "MostExpensive", nil)
	require.NoError(t, err)
	e, err := res.Entity()
	require.NoError(t, err)
	price, _ := e.Property("Price")
	assert.Equal(t, "Edm.Decimal", price.Value.TypeName())

	assert.EqualValues(t, 1, atomic.LoadInt32(&metadataFetches))

	_, err = c.CallFunction(ctx, "NoSuchFunction", nil)
	assert.ErrorContains(t, err, "function import not found")
	_, err = c.CallFunction(ctx, "GetProductsByRating", map[string]any{"stars": 4})
	assert.ErrorContains(t, err, `no parameter "stars"`)
}

func TestInvokeOperation(t *testing.T) {
	var gotPath, gotBody string
	server := fakeService(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusNoContent)
	})
	c := newTestClient(t, server.URL)
	ctx := context.Background()
	product := c.URI().AppendEntitySetSegment("Products").AppendKeySegment(1)

	op := entity.Operation{Kind: entity.OperationAction, Metadata: "#DemoService.Discount", Target: "Products(1)/Discount"}
	res, err := c.InvokeOperation(ctx, product, op, map[string]any{"percentage": 10})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	assert.Equal(t, "/Products(1)/Discount", gotPath)
	assert.JSONEq(t, `{"percentage":10}`, gotBody)

	op.Target = ""
	_, err = c.InvokeOperation(ctx, product, op, nil)
	require.NoError(t, err)
	assert.Equal(t, "/Products(1)/Discount", gotPath)
	assert.Empty(t, gotBody)
}

func TestResponseFormatFollowsContentType(t *testing.T) {
	server := fakeService(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasPrefix(r.Header.Get("Accept"), "application/atom+xml"))
		// The service ignores Accept and answers in JSON.
		writeJSON(w, 200, `{"odata.metadata":"ROOT/$metadata#Categories/@Element","ID":1,"Name":"Food"}`)
	})
	c := newTestClient(t, server.URL, WithFormat(codec.FormatAtom, codec.LevelMinimal))
	e, err := c.GetEntity(context.Background(), c.URI().AppendEntitySetSegment("Categories").AppendKeySegment(1))
	require.NoError(t, err)
	name, ok := e.Property("Name")
	require.True(t, ok)
	assert.True(t, edm.Equal(edm.NewString("Food"), name.Value))
}

func TestGetMetadataCaches(t *testing.T) {
	var fetches int32
	meta := demoMetadata(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&fetches, 1)
		assert.Equal(t, "application/xml", r.Header.Get("Accept"))
		w.Write(meta)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	assert.Nil(t, c.Lookup())
	m1, err := c.GetMetadata(context.Background())
	require.NoError(t, err)
	m2, err := c.GetMetadata(context.Background())
	require.NoError(t, err)
	assert.Same(t, m1, m2)
	assert.EqualValues(t, 1, atomic.LoadInt32(&fetches))
	assert.NotNil(t, c.Lookup())
}

func TestGoPending(t *testing.T) {
	server := fakeService(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "3")
	})
	c := newTestClient(t, server.URL)
	ctx := context.Background()

	p := Go(ctx, func(ctx context.Context) (int64, error) {
		return c.GetCount(ctx, c.URI().AppendEntitySetSegment("Products"))
	})
	<-p.Done()
	n, err := p.Wait(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	block := make(chan struct{})
	slow := Go(ctx, func(context.Context) (int, error) {
		<-block
		return 1, nil
	})
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = slow.Wait(cancelled)
	assert.ErrorIs(t, err, context.Canceled)
	close(block)
	v, err := slow.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestURIValidatesKeysOnceMetadataIsLoaded(t *testing.T) {
	server := fakeService(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s", r.URL)
	})
	c := newTestClient(t, server.URL)
	line := func() *uri.Key { return uri.NewKey().Add("ProductId", 2).Add("OrderId", 1) }

	_, err := c.URI().AppendEntitySetSegment("OrderLines").AppendKeySegment(line()).Build()
	require.NoError(t, err, "no metadata yet")

	_, err = c.GetMetadata(context.Background())
	require.NoError(t, err)

	tests := []struct {
		name    string
		builder *uri.Builder
		wantErr bool
	}{
		{"declared order", c.URI().AppendEntitySetSegment("OrderLines").
			AppendKeySegment(uri.NewKey().Add("OrderId", 1).Add("ProductId", 2)), false},
		{"wrong order", c.URI().AppendEntitySetSegment("OrderLines").AppendKeySegment(line()), true},
		{"missing part", c.URI().AppendEntitySetSegment("OrderLines").
			AppendKeySegment(uri.NewKey().Add("OrderId", 1)), true},
		{"single value for composite key", c.URI().AppendEntitySetSegment("OrderLines").AppendKeySegment(1), true},
		{"single key", c.URI().AppendEntitySetSegment("Products").AppendKeySegment(1), false},
		{"navigation target", c.URI().AppendEntitySetSegment("Categories").AppendKeySegment(1).
			AppendNavigationLinkSegment("Products").AppendKeySegment(uri.NewKey().Add("Id", 1)), true},
		{"unknown set", c.URI().AppendEntitySetSegment("Elsewhere").AppendKeySegment(uri.NewKey().Add("A", 1)), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.builder.Build()
			if tt.wantErr {
				assert.ErrorIs(t, err, metadata.ErrKeyMismatch)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
