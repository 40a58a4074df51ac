// Package schema holds the HCL decoding structs for every file format the
// service reads: model manifests found at module locations and the request
// contract.
package schema

import (
	"github.com/hashicorp/hcl/v2"
)

// --- Model Manifest Schemas ---

// RoleDefinition maps a role tag emitted by a conversion onto the target
// operation that entities carrying the tag are written through.
type RoleDefinition struct {
	Tag       string `hcl:"tag,label"`
	Operation string `hcl:"operation"`
}

// SymbolDefinition exports a registered Go type under a fully-qualified
// name.
type SymbolDefinition struct {
	Name        string            `hcl:"name,label"`
	Type        string            `hcl:"type"`
	Description string            `hcl:"description,optional"`
	Roles       []*RoleDefinition `hcl:"role,block"`
}

// PipelineDefinition names the symbols and operations the assembler wires
// together for a request.
type PipelineDefinition struct {
	Name           string `hcl:"name,label"`
	RequestInfo    string `hcl:"request_info"`
	Target         string `hcl:"target"`
	Mapper         string `hcl:"mapper"`
	MapperInstance string `hcl:"mapper_instance,optional"`
	Convert        string `hcl:"convert"`
	SetRequestInfo string `hcl:"set_request_info"`
	Entity         string `hcl:"entity"`
	SetDecision    string `hcl:"set_decision,optional"`
	GetDecision    string `hcl:"get_decision,optional"`
}

// ManifestConfig represents the top-level structure of a model manifest file.
type ManifestConfig struct {
	Symbols   []*SymbolDefinition   `hcl:"symbol,block"`
	Pipelines []*PipelineDefinition `hcl:"pipeline,block"`
}

// --- Request Contract Schemas ---

// FieldDefinition constrains one top-level attribute of a JSON request body.
type FieldDefinition struct {
	Name      string         `hcl:"name,label"`
	Type      hcl.Expression `hcl:"type"`
	Required  bool           `hcl:"required,optional"`
	MinLength int            `hcl:"min_length,optional"`
	Format    string         `hcl:"format,optional"`
}

// OperationDefinition describes the accepted body of one method and path.
type OperationDefinition struct {
	Method       string             `hcl:"method,label"`
	Path         string             `hcl:"path,label"`
	ContentType  string             `hcl:"content_type,optional"`
	AllowUnknown bool               `hcl:"allow_unknown,optional"`
	Fields       []*FieldDefinition `hcl:"field,block"`
}

// ContractConfig represents the top-level structure of a contract file.
type ContractConfig struct {
	Operations []*OperationDefinition `hcl:"operation,block"`
}
