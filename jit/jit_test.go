package jit_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rafzi/etiss/jit"
)

var _ = Describe("Errors", func() {
	It("should include the compiler diagnostics", func() {
		err := &jit.CompileError{Backend: "cc", Message: "block.c:3: error: x undeclared\n", Err: errors.New("exit status 1")}

		Expect(err.Error()).To(Equal("cc: compile failed: exit status 1\nblock.c:3: error: x undeclared"))
	})

	It("should render a message-only compile error", func() {
		err := &jit.CompileError{Backend: "interp", Message: "line 2: unexpected ';'"}
		Expect(err.Error()).To(Equal("interp: compile failed: line 2: unexpected ';'"))
	})

	It("should unwrap the cause", func() {
		cause := errors.New("dlsym failed")
		var err error = &jit.LinkError{Backend: "cc", Symbol: "blk", Err: cause}

		Expect(errors.Is(err, cause)).To(BeTrue())
		var le *jit.LinkError
		Expect(errors.As(err, &le)).To(BeTrue())
		Expect(le.Symbol).To(Equal("blk"))
	})
})
