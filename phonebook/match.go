package phonebook

import (
	"strings"

	"github.com/simpleiot/dialnet/phys"
)

// Wildmat matches s against a shell style pattern: ? matches one
// character, * any run of characters, [...] and [^...] a character class
// with ranges, and a backslash quotes the next character.
func Wildmat(s, pattern string) bool {
	return wildmat(s, pattern) == matchTrue
}

const (
	matchFalse = iota
	matchTrue
	matchAbort
)

func wildmat(s, p string) int {
	for len(p) > 0 {
		c := p[0]
		switch c {
		case '*':
			for len(p) > 0 && p[0] == '*' {
				p = p[1:]
			}
			if len(p) == 0 {
				return matchTrue
			}
			for i := 0; i <= len(s); i++ {
				if r := wildmat(s[i:], p); r != matchFalse {
					return r
				}
			}
			return matchAbort
		case '?':
			if len(s) == 0 {
				return matchAbort
			}
		case '[':
			if len(s) == 0 {
				return matchAbort
			}
			n, ok := matchClass(s[0], p[1:])
			if !ok {
				return matchFalse
			}
			p = p[1+n:]
			s = s[1:]
			continue
		case '\\':
			if len(p) > 1 {
				p = p[1:]
				c = p[0]
			}
			fallthrough
		default:
			if len(s) == 0 {
				return matchAbort
			}
			if s[0] != c {
				return matchFalse
			}
		}
		p = p[1:]
		s = s[1:]
	}
	if len(s) == 0 {
		return matchTrue
	}
	return matchFalse
}

// matchClass matches one character against the class that starts after
// '['. It returns the pattern length consumed including the closing ']'.
// An unterminated class matches nothing.
func matchClass(c byte, p string) (int, bool) {
	i := 0
	negate := false
	if i < len(p) && (p[i] == '^' || p[i] == '!') {
		negate = true
		i++
	}
	matched := false
	first := true
	for i < len(p) && (first || p[i] != ']') {
		first = false
		lo := p[i]
		if lo == '\\' && i+1 < len(p) {
			i++
			lo = p[i]
		}
		hi := lo
		if i+2 < len(p) && p[i+1] == '-' && p[i+2] != ']' {
			hi = p[i+2]
			if hi == '\\' && i+3 < len(p) {
				i++
				hi = p[i+2]
			}
			i += 2
		}
		if lo <= c && c <= hi {
			matched = true
		}
		i++
	}
	if i >= len(p) {
		return 0, false
	}
	return i + 1, matched != negate
}

// StripMSN removes the voice/both marker and a ":SPID" suffix from a local
// number.
func StripMSN(msn string) string {
	if msn != "" && strings.ContainsRune("vVbB", rune(msn[0])) {
		msn = msn[1:]
	}
	return stripSPID(msn)
}

func stripSPID(s string) string {
	if i := strings.IndexByte(s, ':'); i >= 0 {
		return s[:i]
	}
	return s
}

// MatchLocalEAZ checks the called number of an incoming call against the
// local number of an interface. A plain MSN only takes data calls, a "v"
// prefixed one only voice calls and a "b" prefixed one both. Other service
// indicators never match.
func MatchLocalEAZ(called, msn string, si phys.ServiceIndicator) bool {
	var marker byte
	if msn != "" {
		marker = msn[0] | 0x20
	}

	switch si {
	case phys.SIVoice:
		if marker != 'v' && marker != 'b' {
			return false
		}
		msn = msn[1:]
	case phys.SIData:
		if marker == 'v' {
			return false
		}
		if marker == 'b' {
			msn = msn[1:]
		}
	default:
		return false
	}

	return Wildmat(stripSPID(called), stripSPID(msn))
}
