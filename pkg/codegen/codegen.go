// Package codegen defines the CodeGen collaborator contract (§6): it turns a
// Version's pattern-specific kernel template into source for a target
// device. A concrete backend (OpenCL C, PTX, etc.) is out of scope for this
// repository; TemplateGen renders a deterministic placeholder source string
// keyed by the Version's signature, which is all Program.compile needs to
// exercise the in-process and persistent Version caches.
package codegen

import (
	"fmt"

	"github.com/rasterjit/engine/pkg/dag"
)

// Gen is the CodeGen collaborator contract.
type Gen interface {
	Generate(pattern dag.Pattern, op string, detail string) (source string, err error)
}

// TemplateGen renders kernel source as a textual template instantiation. It
// never touches a real compiler; Program treats its output as opaque bytes
// to hash and to hand to DeviceCtx.
type TemplateGen struct{}

// NewTemplateGen creates a TemplateGen.
func NewTemplateGen() *TemplateGen { return &TemplateGen{} }

func (g *TemplateGen) Generate(pattern dag.Pattern, op string, detail string) (string, error) {
	return fmt.Sprintf("// kernel pattern=%s op=%s detail=%s\nkernel void k_%s(...) { %s(...); }",
		pattern, op, detail, detail, op), nil
}
