package metadata

// Metadata carries the string headers of a message. It travels as AMQP
// headers on the wire.
type Metadata map[string]string

// Clone returns a shallow copy that is never nil.
func (m Metadata) Clone() Metadata {
	return m.grow(0)
}

// With returns a copy of m containing key=value.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.grow(1)
	cloned[key] = value
	return cloned
}

// WithAll returns a copy of m overlaid with entries.
func (m Metadata) WithAll(entries Metadata) Metadata {
	cloned := m.grow(len(entries))
	for k, v := range entries {
		cloned[k] = v
	}
	return cloned
}

// Get is nil-safe.
func (m Metadata) Get(key string) string {
	if m == nil {
		return ""
	}
	return m[key]
}

func (m Metadata) grow(extra int) Metadata {
	cloned := make(Metadata, len(m)+extra)
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// New builds Metadata from alternating key/value pairs. A trailing key
// without a value is dropped.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}
