//go:build !((darwin || freebsd || linux || netbsd) && !android)

package cc

import "unsafe"

const loaderAvailable = false

type library struct{}

func openLibrary(string) (library, error) {
	return library{}, ErrUnsupportedHost
}

func (library) bind(string) (func(unsafe.Pointer) int32, error) {
	return nil, ErrUnsupportedHost
}

func (library) close() error {
	return nil
}
