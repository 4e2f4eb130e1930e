//go:build (darwin || freebsd || linux || netbsd) && !android

package cc

import (
	"unsafe"

	"github.com/ebitengine/purego"
)

const loaderAvailable = true

type library struct {
	handle uintptr
}

func openLibrary(path string) (library, error) {
	h, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_LOCAL)
	if err != nil {
		return library{}, err
	}
	return library{handle: h}, nil
}

func (l library) bind(symbol string) (func(unsafe.Pointer) int32, error) {
	sym, err := purego.Dlsym(l.handle, symbol)
	if err != nil {
		return nil, err
	}
	var fn func(st unsafe.Pointer) int32
	purego.RegisterFunc(&fn, sym)
	return fn, nil
}

func (l library) close() error {
	return purego.Dlclose(l.handle)
}
