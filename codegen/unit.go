package codegen

import (
	"fmt"
	"strings"
)

// Header is a header file required by generated code.
type Header struct {
	Name    string
	Content string
}

// RuntimeHeaderName is the header every translation unit includes first.
const RuntimeHeaderName = "etiss_rt.h"

// RuntimeHeader gives the state accessor macros their C meaning. The state
// is little-endian, so the C path is only valid on little-endian hosts.
const RuntimeHeader = `#pragma once
#include <stdint.h>

#define LD8(o) (*(uint8_t *)(st + (o)))
#define LD16(o) (*(uint16_t *)(st + (o)))
#define LD32(o) (*(uint32_t *)(st + (o)))
#define LD64(o) (*(uint64_t *)(st + (o)))
#define ST8(o, v) (*(uint8_t *)(st + (o)) = (uint8_t)(v))
#define ST16(o, v) (*(uint16_t *)(st + (o)) = (uint16_t)(v))
#define ST32(o, v) (*(uint32_t *)(st + (o)) = (uint32_t)(v))
#define ST64(o, v) (*(uint64_t *)(st + (o)) = (uint64_t)(v))
`

// Unit is one compilable translation unit.
type Unit struct {
	Headers []string
	Blocks  []*Block
}

// Source renders the unit.
func (u Unit) Source() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "#include \"%s\"\n", RuntimeHeaderName)
	for _, h := range u.Headers {
		fmt.Fprintf(&sb, "#include \"%s\"\n", h)
	}
	for _, b := range u.Blocks {
		sb.WriteString("\n")
		sb.WriteString(b.Function())
	}
	return sb.String()
}
