//go:build !cuda
// +build !cuda

package gpu

// cudaCompiled reports whether this binary links the CUDA libraries.
const cudaCompiled = false
