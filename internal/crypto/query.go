package crypto

import (
	"net/url"
	"sort"
	"strings"
)

// CanonicalQuery renders params as the query string the exchange hashes:
// keys sorted byte-wise ascending, each pair "key=value" percent-encoded with
// spaces as %20, pairs joined by '&'. No params yields "".
func CanonicalQuery(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	ptrs := make(map[string]*string, len(params))
	for k, v := range params {
		v := v
		ptrs[k] = &v
	}
	return CanonicalQueryPtr(ptrs)
}

// CanonicalQueryPtr is CanonicalQuery for parameter sets with optional
// values. Entries whose value is nil are skipped.
func CanonicalQueryPtr(params map[string]*string) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		v := params[k]
		if v == nil {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(escape(k))
		sb.WriteByte('=')
		sb.WriteString(escape(*v))
	}
	return sb.String()
}

// escape is url.QueryEscape with %20 for spaces. Letters, digits and
// "-_.~" pass through; everything else, '*' included, is percent-encoded.
// Market codes, UUIDs, sides and decimal amounts never hit the difference.
func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
