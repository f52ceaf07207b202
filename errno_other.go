//go:build !(darwin || linux)

package rist

// classifyCode maps the engine codes this package itself produces. Native
// errno values are not available on these platforms.
func classifyCode(code int) (kind error, name string, ok bool) {
	switch code {
	case codeTimeout:
		return ErrTimeout, "ETIMEDOUT", true
	case codeClosed, codeBadFD:
		return ErrClosed, "ENOTCONN", true
	case codeInvalid, codeInUse, codeTooLarge:
		return ErrNative, "EINVAL", true
	default:
		return nil, "", false
	}
}

const (
	codeTimeout  = -110
	codeClosed   = -107
	codeBadFD    = -9
	codeInvalid  = -22
	codeInUse    = -98
	codeTooLarge = -90
)
