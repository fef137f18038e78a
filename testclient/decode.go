package testclient

import "unicode/utf8"

// Decode returns raw as text when it is valid UTF-8. Otherwise it returns a
// *DecodeError pointing at the first invalid byte.
//
// Parameters:
//   - raw: The response bytes; nil and empty decode to ""
//
// Returns:
//   - The text, or a *DecodeError matching ErrDecode
func Decode(raw []byte) (string, error) {
	if utf8.Valid(raw) {
		return string(raw), nil
	}

	for i := 0; i < len(raw); {
		r, size := utf8.DecodeRune(raw[i:])
		if r == utf8.RuneError && size <= 1 {
			return "", &DecodeError{Offset: i}
		}
		i += size
	}

	return "", &DecodeError{Offset: len(raw)}
}
