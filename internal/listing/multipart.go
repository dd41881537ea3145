package listing

import "strings"

// MultipartUploads accumulates the in-progress multipart-upload listing
// from the bucket's overview records.
type MultipartUploads struct {
	prefix       string
	delimiter    string
	splitter     string
	prefixLength int
	maxKeys      int

	uploads        []Upload
	commonPrefixes []string
	lastPrefix     string
	count          int
	truncated      bool

	nextKeyMarker      string
	nextUploadIDMarker string
}

// NewMultipartUploads builds the extension for the given params.
func NewMultipartUploads(p Params) *MultipartUploads {
	return &MultipartUploads{
		prefix:       p.Prefix,
		delimiter:    p.Delimiter,
		splitter:     p.splitter(),
		prefixLength: p.QueryPrefixLength,
		maxKeys:      p.maxKeys(),
	}
}

// Filter accepts one scanned entry. Keys that are not overview records are
// skipped without counting toward the page. A zero MaxKeys is an explicit
// empty page: the scan stops immediately and the result stays untruncated.
func (m *MultipartUploads) Filter(key, value []byte) bool {
	if m.maxKeys == 0 {
		return false
	}
	if m.count >= m.maxKeys {
		m.truncated = true
		return false
	}

	raw := string(key)
	if len(raw) < m.prefixLength {
		return true
	}
	raw = raw[m.prefixLength:]

	parts := strings.SplitN(raw, m.splitter, 3)
	if len(parts) != 3 || parts[0] != overviewTag {
		return true
	}
	objKey, uploadID := parts[1], parts[2]

	if m.prefix != "" && !strings.HasPrefix(objKey, m.prefix) {
		return true
	}

	if m.delimiter != "" {
		rest := objKey[len(m.prefix):]
		if i := strings.Index(rest, m.delimiter); i >= 0 {
			cp := objKey[:len(m.prefix)+i+len(m.delimiter)]
			if cp == m.lastPrefix {
				return true
			}
			m.commonPrefixes = append(m.commonPrefixes, cp)
			m.lastPrefix = cp
			m.count++
			m.nextKeyMarker = cp
			m.nextUploadIDMarker = ""
			return true
		}
	}

	m.uploads = append(m.uploads, Upload{
		Key:      objKey,
		UploadID: uploadID,
		Value:    append([]byte(nil), value...),
	})
	m.count++
	m.nextKeyMarker = objKey
	m.nextUploadIDMarker = uploadID
	return true
}

// Result returns the accumulated page.
func (m *MultipartUploads) Result() *UploadsResult {
	res := &UploadsResult{
		Uploads:        m.uploads,
		CommonPrefixes: m.commonPrefixes,
		IsTruncated:    m.truncated,
	}
	if m.truncated {
		res.NextKeyMarker = m.nextKeyMarker
		res.NextUploadIDMarker = m.nextUploadIDMarker
	}
	return res
}
