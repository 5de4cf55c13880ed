package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zmcp/odata-client/internal/edm"
)

func TestSetPropertyReplacesInPlace(t *testing.T) {
	e := New("Microsoft.Test.OData.Services.AstoriaDefaultService.Customer")
	e.SetProperty("CustomerId", edm.NewInt32(-10))
	e.SetProperty("Name", edm.NewString("Sample customer"))
	e.SetProperty("CustomerId", edm.NewInt32(-11))

	props := e.Properties()
	require.Len(t, props, 2)
	assert.Equal(t, "CustomerId", props[0].Name)
	assert.Equal(t, "-11", props[0].Value.(*edm.Primitive).CanonicalText())
}

func TestAddPropertyRejectsDuplicate(t *testing.T) {
	e := New("NS.Customer")
	require.NoError(t, e.AddProperty(Property{Name: "Name", Value: edm.NewString("a")}))
	err := e.AddProperty(Property{Name: "Name", Value: edm.NewString("b")})
	assert.ErrorIs(t, err, ErrDuplicateProperty)
}

func TestNullDistinctFromAbsent(t *testing.T) {
	e := New("NS.Customer")
	e.SetProperty("Auditing", nil)

	p, ok := e.Property("Auditing")
	require.True(t, ok)
	assert.True(t, p.IsNull())

	_, ok = e.Property("Missing")
	assert.False(t, ok)

	assert.True(t, e.RemoveProperty("Auditing"))
	assert.False(t, e.RemoveProperty("Auditing"))
}

func TestMediaFlagKeepsProperties(t *testing.T) {
	e := New("NS.Car")
	e.SetProperty("Description", edm.NewString("sample"))
	e.SetMediaEntity(true)

	assert.True(t, e.MediaEntity)
	_, ok := e.Property("Description")
	assert.True(t, ok)
}

func TestAddLinkRules(t *testing.T) {
	a, b := New("NS.Order"), New("NS.Order")

	tests := []struct {
		name    string
		links   []Link
		wantErr bool
	}{
		{
			name:  "distinct names",
			links: []Link{NewFeedLink("Orders", "Customer(-10)/Orders"), NewNavigationLink("Info", "Customer(-10)/Info")},
		},
		{
			name:  "feed plus inline entries",
			links: []Link{NewFeedLink("Orders", ""), NewNavigationLink("Orders", "").WithInlineEntity(a), NewNavigationLink("Orders", "").WithInlineEntity(b)},
		},
		{
			name:    "two feeds",
			links:   []Link{NewFeedLink("Orders", ""), NewFeedLink("Orders", "")},
			wantErr: true,
		},
		{
			name:    "same inline entity twice",
			links:   []Link{NewNavigationLink("Orders", "").WithInlineEntity(a), NewNavigationLink("Orders", "").WithInlineEntity(a)},
			wantErr: true,
		},
		{
			name:    "entry without inline",
			links:   []Link{NewFeedLink("Orders", ""), NewNavigationLink("Orders", "")},
			wantErr: true,
		},
		{
			name:    "association repeated",
			links:   []Link{NewAssociationLink("Orders", "a"), NewAssociationLink("Orders", "b")},
			wantErr: true,
		},
		{
			name:  "navigation and association share a name",
			links: []Link{NewFeedLink("Orders", ""), NewAssociationLink("Orders", "")},
		},
		{
			name:    "named stream repeated",
			links:   []Link{NewMediaEditLink("Photo", "a"), NewMediaEditLink("Photo", "b")},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New("NS.Customer")
			var err error
			for _, l := range tt.links {
				if err = e.AddLink(l); err != nil {
					break
				}
			}
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrDuplicateLink)
			} else {
				assert.NoError(t, err)
				assert.Len(t, e.Links(), len(tt.links))
			}
		})
	}
}

func TestAddInlineEntity(t *testing.T) {
	e := New("NS.Customer")
	e.AddInlineEntity("Orders", New("NS.Order"))
	e.AddInlineEntity("Orders", New("NS.Order"))

	links := e.NavigationLinks()
	require.Len(t, links, 1)
	assert.Equal(t, LinkNavigationFeed, links[0].Kind)
	require.NotNil(t, links[0].InlineSet)
	assert.Len(t, links[0].InlineSet.Entities, 2)
}

func TestLinkQueries(t *testing.T) {
	e := New("NS.Customer")
	require.NoError(t, e.AddLink(NewFeedLink("Orders", "Customer(-10)/Orders")))
	require.NoError(t, e.AddLink(NewAssociationLink("Orders", "Customer(-10)/$links/Orders")))
	require.NoError(t, e.AddLink(NewMediaEditLink("Thumbnail", "Customer(-10)/Thumbnail")))

	assert.Len(t, e.NavigationLinks(), 1)
	assert.Len(t, e.AssociationLinks(), 1)
	assert.Len(t, e.MediaEditLinks(), 1)

	assert.Equal(t, 2, e.RemoveLinks("Orders"))
	assert.Len(t, e.Links(), 1)
}

func TestEntitySet(t *testing.T) {
	set := NewEntitySet(New("NS.Customer"))
	assert.False(t, set.HasNext())
	assert.Nil(t, set.Count)

	set.Next = "Customer?$skiptoken=-9"
	set.SetCount(2)
	set.Add(New("NS.Customer"))

	assert.True(t, set.HasNext())
	assert.Equal(t, int64(2), *set.Count)
	assert.Len(t, set.Entities, 2)
}
