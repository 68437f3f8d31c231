package webhook

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"

	"github.com/xraph/herald/catalog"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// reservedHeaders are set by the dispatcher and cannot be configured.
var reservedHeaders = map[string]bool{
	"Content-Type":   true,
	"Content-Length": true,
	"Host":           true,
	"User-Agent":     true,
}

// Validator checks webhook input against the embedded JSON schemas and the
// event catalog.
type Validator struct {
	create  *jsonschema.Schema
	update  *jsonschema.Schema
	catalog *catalog.Catalog
}

// NewValidator compiles the input schemas. A nil catalog uses the default one.
func NewValidator(cat *catalog.Catalog) (*Validator, error) {
	if cat == nil {
		cat = catalog.Default()
	}

	c := jsonschema.NewCompiler()
	compile := func(name string) (*jsonschema.Schema, error) {
		raw, err := schemaFS.ReadFile("schemas/" + name)
		if err != nil {
			return nil, err
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("unmarshal schema %s: %w", name, err)
		}
		u := "herald://webhook/" + name
		if err := c.AddResource(u, doc); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
		return c.Compile(u)
	}

	create, err := compile("create.json")
	if err != nil {
		return nil, err
	}
	update, err := compile("update.json")
	if err != nil {
		return nil, err
	}
	return &Validator{create: create, update: update, catalog: cat}, nil
}

// ValidateCreate checks a create payload.
func (v *Validator) ValidateCreate(in Input) error {
	return v.validate(v.create, in)
}

// ValidateUpdate checks an update payload. Absent fields are not checked.
func (v *Validator) ValidateUpdate(in Input) error {
	return v.validate(v.update, in)
}

func (v *Validator) validate(sch *jsonschema.Schema, in Input) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return err
	}
	if err := sch.Validate(doc); err != nil {
		return schemaError(err)
	}

	// Present but empty would survive omitempty and wipe the subscription.
	if in.Events != nil && len(in.Events) == 0 {
		return &ValidationError{Field: "events", Message: "at least one event type is required"}
	}
	if in.URL != nil {
		if err := checkURL(*in.URL); err != nil {
			return err
		}
	}
	for _, name := range in.Events {
		if !v.catalog.Known(name) {
			return &ValidationError{Field: "events", Message: fmt.Sprintf("unknown event type %q", name)}
		}
	}
	for name := range in.Headers {
		if err := checkHeader(name); err != nil {
			return err
		}
	}
	return nil
}

func checkURL(raw string) error {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return &ValidationError{Field: "url", Message: "invalid URL"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ValidationError{Field: "url", Message: "scheme must be http or https"}
	}
	if u.Host == "" {
		return &ValidationError{Field: "url", Message: "host is required"}
	}
	if u.User != nil {
		return &ValidationError{Field: "url", Message: "credentials are not allowed in the URL"}
	}
	return nil
}

func checkHeader(name string) error {
	if name == "" || strings.ContainsAny(name, " \t\r\n:") {
		return &ValidationError{Field: "headers", Message: fmt.Sprintf("invalid header name %q", name)}
	}
	canonical := http.CanonicalHeaderKey(name)
	if reservedHeaders[canonical] || strings.HasPrefix(canonical, "X-Webhook-") {
		return &ValidationError{Field: "headers", Message: fmt.Sprintf("header %q is reserved", canonical)}
	}
	return nil
}

// schemaError turns the deepest schema violation into a ValidationError.
func schemaError(err error) error {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return &ValidationError{Field: "body", Message: err.Error()}
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}

	field := "body"
	if len(ve.InstanceLocation) > 0 {
		field = ve.InstanceLocation[0]
	}
	if req, ok := ve.ErrorKind.(*kind.Required); ok && len(req.Missing) > 0 {
		return &ValidationError{Field: req.Missing[0], Message: "required"}
	}
	msg := "invalid value"
	if ve.ErrorKind != nil {
		if kw := ve.ErrorKind.KeywordPath(); len(kw) > 0 {
			msg = "violates " + strings.Join(kw, "/")
		}
	}
	return &ValidationError{Field: field, Message: msg}
}
