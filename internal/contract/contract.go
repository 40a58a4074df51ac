// Package contract validates request bodies against an HCL request contract.
//
// A contract file declares, per method and path, the JSON attributes a body
// may carry:
//
//	operation "POST" "/request" {
//	  field "activityId" {
//	    type       = string
//	    required   = true
//	    min_length = 1
//	  }
//	}
//
// Bodies are decoded with go-cty and every violation is reported, not just
// the first one.
package contract

import (
	"context"
	"fmt"
	"mime"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vk/dapgrid/internal/ctxlog"
	"github.com/vk/dapgrid/internal/schema"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

// DefaultContentType is assumed when a caller sends no content type.
const DefaultContentType = "application/json"

// Supported values of a field's format attribute.
const (
	FormatDateTime = "date-time"
	FormatDate     = "date"
	FormatUUID     = "uuid"
)

// Result is the outcome of one validation.
type Result struct {
	HasErrors bool
	Messages  []string
}

func (r *Result) add(format string, args ...any) {
	r.HasErrors = true
	r.Messages = append(r.Messages, fmt.Sprintf(format, args...))
}

type field struct {
	name      string
	typ       cty.Type
	required  bool
	minLength int
	format    string
}

type operation struct {
	method       string
	path         string
	contentType  string
	allowUnknown bool
	fields       []field
}

// Validator holds compiled operations. It is immutable and safe for
// concurrent use.
type Validator struct {
	ops map[string]*operation
}

func opKey(method, path string) string {
	return strings.ToUpper(method) + " " + path
}

// Load parses and compiles a contract file.
func Load(ctx context.Context, filePath string) (*Validator, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Decoding request contract.", "path", filePath)

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(filePath)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse request contract %s: %w", filePath, diags)
	}
	var cfg schema.ContractConfig
	if diags := gohcl.DecodeBody(file.Body, nil, &cfg); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode request contract %s: %w", filePath, diags)
	}

	v, err := compile(ctx, &cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid request contract %s: %w", filePath, err)
	}
	logger.Info("Request contract loaded.", "path", filePath, "operations", len(v.ops))
	return v, nil
}

func compile(ctx context.Context, cfg *schema.ContractConfig) (*Validator, error) {
	v := &Validator{ops: make(map[string]*operation)}
	for _, def := range cfg.Operations {
		key := opKey(def.Method, def.Path)
		if _, dup := v.ops[key]; dup {
			return nil, fmt.Errorf("operation %s declared more than once", key)
		}
		op := &operation{
			method:       strings.ToUpper(def.Method),
			path:         def.Path,
			contentType:  def.ContentType,
			allowUnknown: def.AllowUnknown,
		}
		if op.contentType == "" {
			op.contentType = DefaultContentType
		}

		seen := make(map[string]struct{})
		for _, fd := range def.Fields {
			if _, dup := seen[fd.Name]; dup {
				return nil, fmt.Errorf("%s: field %q declared more than once", key, fd.Name)
			}
			seen[fd.Name] = struct{}{}

			typ, err := typeExprToCtyType(ctx, fd.Type)
			if err != nil {
				return nil, fmt.Errorf("%s: field %q: %w", key, fd.Name, err)
			}
			if fd.MinLength < 0 {
				return nil, fmt.Errorf("%s: field %q: min_length must not be negative", key, fd.Name)
			}
			switch fd.Format {
			case "", FormatDateTime, FormatDate, FormatUUID:
			default:
				return nil, fmt.Errorf("%s: field %q: unknown format %q", key, fd.Name, fd.Format)
			}
			if fd.Format != "" && !typ.Equals(cty.String) {
				return nil, fmt.Errorf("%s: field %q: format applies to strings only", key, fd.Name)
			}
			op.fields = append(op.fields, field{
				name:      fd.Name,
				typ:       typ,
				required:  fd.Required,
				minLength: fd.MinLength,
				format:    fd.Format,
			})
		}
		v.ops[key] = op
	}
	return v, nil
}

// Operations lists the declared operations as "METHOD path", sorted.
func (v *Validator) Operations() []string {
	keys := make([]string, 0, len(v.ops))
	for k := range v.ops {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Validate checks body against the operation declared for method and path.
// An empty contentType is treated as DefaultContentType.
func (v *Validator) Validate(path, method string, body []byte, contentType string) Result {
	var res Result

	op, ok := v.ops[opKey(method, path)]
	if !ok {
		res.add("No operation is defined for %s %s", strings.ToUpper(method), path)
		return res
	}

	if contentType == "" {
		contentType = DefaultContentType
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.EqualFold(mediaType, op.contentType) {
		res.add("Content type %q is not supported, expected %q", contentType, op.contentType)
		return res
	}

	if len(strings.TrimSpace(string(body))) == 0 {
		res.add("Request body is required")
		return res
	}
	ty, err := ctyjson.ImpliedType(body)
	if err != nil {
		res.add("Request body is not valid JSON: %v", err)
		return res
	}
	if !ty.IsObjectType() {
		res.add("Request body must be a JSON object")
		return res
	}
	val, err := ctyjson.Unmarshal(body, ty)
	if err != nil {
		res.add("Request body is not valid JSON: %v", err)
		return res
	}

	declared := make(map[string]struct{}, len(op.fields))
	for _, f := range op.fields {
		declared[f.name] = struct{}{}
		if !ty.HasAttribute(f.name) || val.GetAttr(f.name).IsNull() {
			if f.required {
				res.add("Field '%s' is required", f.name)
			}
			continue
		}
		checkField(&res, f, val.GetAttr(f.name))
	}

	if !op.allowUnknown {
		var extra []string
		for name := range ty.AttributeTypes() {
			if _, ok := declared[name]; !ok {
				extra = append(extra, name)
			}
		}
		sort.Strings(extra)
		for _, name := range extra {
			res.add("Field '%s' is not allowed", name)
		}
	}
	return res
}

func checkField(res *Result, f field, raw cty.Value) {
	var (
		val cty.Value
		err error
	)
	if f.typ.IsPrimitiveType() {
		// JSON values are never coerced between primitive types.
		if !raw.Type().Equals(f.typ) {
			res.add("Field '%s' must be of type %s", f.name, f.typ.FriendlyName())
			return
		}
		val = raw
	} else if val, err = convert.Convert(raw, f.typ); err != nil {
		res.add("Field '%s' must be of type %s", f.name, f.typ.FriendlyName())
		return
	}

	if f.minLength > 0 {
		unit := "elements"
		if val.Type().Equals(cty.String) {
			unit = "characters"
		}
		if n := length(val); n < f.minLength {
			res.add("Field '%s' must have at least %d %s", f.name, f.minLength, unit)
		}
	}

	if f.format == "" {
		return
	}
	var s string
	if err := gocty.FromCtyValue(val, &s); err != nil {
		res.add("Field '%s' must be a string", f.name)
		return
	}
	switch f.format {
	case FormatDateTime:
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			res.add("Field '%s' must be an RFC 3339 date-time", f.name)
		}
	case FormatDate:
		if _, err := time.Parse(time.DateOnly, s); err != nil {
			res.add("Field '%s' must be a date (YYYY-MM-DD)", f.name)
		}
	case FormatUUID:
		if _, err := uuid.Parse(s); err != nil {
			res.add("Field '%s' must be a UUID", f.name)
		}
	}
}

// length counts characters of strings and elements of collections.
func length(v cty.Value) int {
	switch {
	case v.Type().Equals(cty.String):
		var s string
		if err := gocty.FromCtyValue(v, &s); err != nil {
			return 0
		}
		return utf8.RuneCountInString(s)
	case v.CanIterateElements():
		return v.LengthInt()
	default:
		return 0
	}
}
