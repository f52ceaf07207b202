//go:build darwin || linux

// Helpers shared by the purego librist binding.

package rist

import (
	"os"
	"path/filepath"
	"strings"
	"unsafe"
)

// maxNativeString bounds the scan for a C string terminator.
const maxNativeString = 64 << 10

// goStringFromPtr converts a NUL-terminated C string to a Go string.
func goStringFromPtr(ptr uintptr) string {
	if ptr == 0 {
		return ""
	}
	p := unsafe.Pointer(ptr)
	var length int
	for length < maxNativeString && *(*byte)(unsafe.Add(p, length)) != 0 {
		length++
	}
	if length == 0 {
		return ""
	}
	return string(unsafe.Slice((*byte)(p), length))
}

// goBytesN copies n bytes starting at ptr.
func goBytesN(ptr uintptr, n int) []byte {
	if ptr == 0 || n <= 0 {
		return nil
	}
	out := make([]byte, n)
	copy(out, unsafe.Slice((*byte)(unsafe.Pointer(ptr)), n))
	return out
}

// putCString copies s into a fixed-size C char array, always leaving room
// for the terminator.
func putCString(dst []byte, s string) {
	n := copy(dst[:len(dst)-1], s)
	clear(dst[n:])
}

// findModuleRoot walks up from the working directory to the directory
// holding go.mod.
func findModuleRoot() string {
	wd, err := os.Getwd()
	if err != nil {
		return ""
	}
	dir := wd
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// libraryPaths lists candidate locations for a shared library, most
// specific first: an explicit file, an SDK directory, the executable's
// neighbourhood, the module's build directory, then the system loader.
func libraryPaths(libName, fileEnv, dirEnv string, systemDirs ...string) []string {
	var paths []string
	if p := os.Getenv(fileEnv); p != "" {
		paths = append(paths, p)
	}
	if dir := os.Getenv(dirEnv); dir != "" {
		for _, d := range strings.Split(dir, string(os.PathListSeparator)) {
			if d != "" {
				paths = append(paths, filepath.Join(d, libName))
			}
		}
	}
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, libName),
			filepath.Join(exeDir, "..", "lib", libName),
		)
	}
	if root := findModuleRoot(); root != "" {
		paths = append(paths, filepath.Join(root, "build", libName))
	}
	paths = append(paths, libName)
	for _, d := range systemDirs {
		paths = append(paths, filepath.Join(d, libName))
	}
	return paths
}
