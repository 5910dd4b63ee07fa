package storage

import "strings"

// MatchPattern reports whether key matches a Redis glob pattern.
//
// Supported syntax:
//   - * matches any number of characters (including zero)
//   - ? matches a single character
//   - [abc] matches any character in the brackets, [^abc] negates
//   - [a-z] matches any character in the range
//   - \x matches x literally
//
// An empty pattern matches every key, like KEYS with no argument.
func MatchPattern(key, pattern string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}

	if fast, ok := matchPatternSimple(key, pattern); ok {
		return fast
	}

	return matchGlob(key, pattern)
}

// matchPatternSimple handles patterns with at most one '*' and no other
// metacharacters. ok is false when the pattern needs the full matcher.
func matchPatternSimple(key, pattern string) (matched, ok bool) {
	if strings.ContainsAny(pattern, "?[\\") {
		return false, false
	}

	starIndex := strings.IndexByte(pattern, '*')
	if starIndex == -1 {
		return key == pattern, true
	}

	if strings.LastIndexByte(pattern, '*') != starIndex {
		return false, false
	}

	prefix, suffix := pattern[:starIndex], pattern[starIndex+1:]
	return len(key) >= len(prefix)+len(suffix) &&
		strings.HasPrefix(key, prefix) &&
		strings.HasSuffix(key, suffix), true
}

// matchGlob is an iterative matcher that backtracks to the last '*'
func matchGlob(key, pattern string) bool {
	var (
		k, p         int
		starP, starK = -1, -1
	)

	for k < len(key) {
		if p < len(pattern) {
			switch pattern[p] {
			case '*':
				starP, starK = p, k
				p++
				continue
			case '?':
				k++
				p++
				continue
			case '[':
				if matched, next, ok := matchClass(key[k], pattern, p); ok && matched {
					k++
					p = next
					continue
				}
			case '\\':
				if p+1 < len(pattern) && pattern[p+1] == key[k] {
					k++
					p += 2
					continue
				}
			default:
				if pattern[p] == key[k] {
					k++
					p++
					continue
				}
			}
		}

		if starP == -1 {
			return false
		}

		// Let the last star absorb one more character
		starK++
		k = starK
		p = starP + 1
	}

	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}

// matchClass matches c against the bracket expression starting at pattern[p].
// next is the index right after the closing ']'. ok is false for an
// unterminated class, which then never matches.
func matchClass(c byte, pattern string, p int) (matched bool, next int, ok bool) {
	i := p + 1
	negate := false
	if i < len(pattern) && pattern[i] == '^' {
		negate = true
		i++
	}

	for first := true; i < len(pattern); first = false {
		if pattern[i] == ']' && !first {
			if negate {
				matched = !matched
			}
			return matched, i + 1, true
		}

		lo := pattern[i]
		if lo == '\\' && i+1 < len(pattern) {
			i++
			lo = pattern[i]
		}

		if i+2 < len(pattern) && pattern[i+1] == '-' && pattern[i+2] != ']' {
			hi := pattern[i+2]
			if lo > hi {
				lo, hi = hi, lo
			}
			if c >= lo && c <= hi {
				matched = true
			}
			i += 3
			continue
		}

		if c == lo {
			matched = true
		}
		i++
	}

	return false, len(pattern), false
}
