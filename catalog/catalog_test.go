package catalog_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/xraph/herald/catalog"
)

func TestDefaultCatalog(t *testing.T) {
	c := catalog.Default()

	for _, name := range []string{"order.created", "invoice.authorized", "stock.low", catalog.TestEventType} {
		if !c.Known(name) {
			t.Errorf("expected %q in default catalog", name)
		}
	}

	d, ok := c.Lookup(catalog.TestEventType)
	if !ok || len(d.Example) == 0 {
		t.Fatal("webhook.test should carry an example payload")
	}
}

func TestListSorted(t *testing.T) {
	list := catalog.Default().List()
	for i := 1; i < len(list); i++ {
		if list[i-1].Name >= list[i].Name {
			t.Fatalf("not sorted at %d: %q >= %q", i, list[i-1].Name, list[i].Name)
		}
	}
}

func TestDescriptions(t *testing.T) {
	c, err := catalog.New(catalog.Definition{Name: "a.b", Description: "desc"})
	if err != nil {
		t.Fatal(err)
	}
	got := c.Descriptions()
	if len(got) != 1 || got["a.b"] != "desc" {
		t.Fatalf("got %v", got)
	}
}

func TestValidName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"order.created", true},
		{"invoice.payment.failed", true},
		{"stock_item.low", true},
		{"order", false},
		{"Order.Created", false},
		{"order.*", false},
		{".created", false},
		{"order.", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := catalog.ValidName(tt.name); got != tt.want {
			t.Errorf("ValidName(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestRegisterRejectsInvalid(t *testing.T) {
	c := catalog.Default()
	err := c.Register(catalog.Definition{Name: "bad name"})
	if !errors.Is(err, catalog.ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
}

func TestLoadYAML(t *testing.T) {
	c := catalog.Default()
	doc := `
event_types:
  - name: shipment.dispatched
    description: A shipment left the warehouse.
    group: shipment
  - name: order.created
    description: Overridden description.
`
	n, err := c.LoadYAML(strings.NewReader(doc))
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("loaded %d, want 2", n)
	}
	if !c.Known("shipment.dispatched") {
		t.Fatal("shipment.dispatched not registered")
	}
	if d, _ := c.Lookup("order.created"); d.Description != "Overridden description." {
		t.Fatalf("description = %q", d.Description)
	}
}

func TestLoadYAMLAllOrNothing(t *testing.T) {
	c := catalog.Default()
	doc := `
event_types:
  - name: good.one
    description: fine
  - name: Bad
    description: broken
`
	if _, err := c.LoadYAML(strings.NewReader(doc)); !errors.Is(err, catalog.ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
	if c.Known("good.one") {
		t.Fatal("partial load should not register entries")
	}
}

func TestLoadYAMLEmpty(t *testing.T) {
	n, err := catalog.Default().LoadYAML(strings.NewReader(""))
	if err != nil || n != 0 {
		t.Fatalf("got (%d, %v)", n, err)
	}
}
