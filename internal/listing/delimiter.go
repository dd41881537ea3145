package listing

import "strings"

// Delimiter accumulates the plain object listing: contents below the
// delimiter boundary, deduplicated common prefixes above it.
type Delimiter struct {
	prefix    string
	delimiter string
	maxKeys   int

	contents       []Entry
	commonPrefixes []string
	lastPrefix     string
	count          int
	truncated      bool
	nextMarker     string
}

// NewDelimiter builds the extension for the given params.
func NewDelimiter(p Params) *Delimiter {
	return &Delimiter{
		prefix:    p.Prefix,
		delimiter: p.Delimiter,
		maxKeys:   p.maxKeys(),
	}
}

// Filter accepts one scanned entry. It returns false once the page is
// full; the entry that overflows the page is not included and marks the
// listing truncated. A zero MaxKeys is an explicit empty page: the scan
// stops immediately and the result stays untruncated.
func (d *Delimiter) Filter(key, value []byte) bool {
	if d.maxKeys == 0 {
		return false
	}
	if d.count >= d.maxKeys {
		d.truncated = true
		return false
	}

	k := string(key)
	if d.delimiter != "" && strings.HasPrefix(k, d.prefix) {
		rest := k[len(d.prefix):]
		if i := strings.Index(rest, d.delimiter); i >= 0 {
			cp := k[:len(d.prefix)+i+len(d.delimiter)]
			if cp == d.lastPrefix {
				return true
			}
			d.commonPrefixes = append(d.commonPrefixes, cp)
			d.lastPrefix = cp
			d.count++
			d.nextMarker = cp
			return true
		}
	}

	d.contents = append(d.contents, Entry{
		Key:   k,
		Value: append([]byte(nil), value...),
	})
	d.count++
	d.nextMarker = k
	return true
}

// Result returns the accumulated page.
func (d *Delimiter) Result() *ObjectsResult {
	res := &ObjectsResult{
		Contents:       d.contents,
		CommonPrefixes: d.commonPrefixes,
		IsTruncated:    d.truncated,
	}
	if d.truncated {
		res.NextMarker = d.nextMarker
	}
	return res
}
