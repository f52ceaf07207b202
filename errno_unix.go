//go:build darwin || linux

package rist

import "golang.org/x/sys/unix"

// classifyCode maps a negative errno returned by an engine to an error
// class. Positive and zero codes are not errors and are never passed here.
func classifyCode(code int) (kind error, name string, ok bool) {
	if code >= 0 {
		return nil, "", false
	}
	errno := unix.Errno(-code)
	switch errno {
	case unix.EAGAIN, unix.ETIMEDOUT, unix.EINTR:
		return ErrTimeout, unix.ErrnoName(errno), true
	case unix.EBADF, unix.ENOTCONN, unix.ECONNRESET, unix.ECONNREFUSED,
		unix.EPIPE, unix.ESHUTDOWN, unix.ENODEV:
		return ErrClosed, unix.ErrnoName(errno), true
	case unix.EINVAL, unix.ENOMEM, unix.EMSGSIZE, unix.ENOBUFS,
		unix.EADDRINUSE, unix.EADDRNOTAVAIL, unix.EACCES:
		return ErrNative, unix.ErrnoName(errno), true
	default:
		return nil, "", false
	}
}

// Codes engines return for the common cases.
const (
	codeTimeout  = -int(unix.ETIMEDOUT)
	codeClosed   = -int(unix.ENOTCONN)
	codeBadFD    = -int(unix.EBADF)
	codeInvalid  = -int(unix.EINVAL)
	codeInUse    = -int(unix.EADDRINUSE)
	codeTooLarge = -int(unix.EMSGSIZE)
)
