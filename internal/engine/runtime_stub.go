//go:build !govips || !cgo

package engine

const Backend = "imaging"

func Startup() error {
	return nil
}

func Shutdown() {}

func newDefault(opts Options) Factory {
	return NewImagingFactory(opts)
}
