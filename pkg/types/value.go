package types

// Composite is a decoded user-defined type value. Values are positional and
// line up with Names; a nil entry is a null or absent field.
type Composite struct {
	TypeID TypeID
	Names  []string
	Values []interface{}
}

// Get returns the value of the named field.
func (c *Composite) Get(name string) (interface{}, bool) {
	for i, n := range c.Names {
		if n == name {
			return c.Values[i], true
		}
	}
	return nil, false
}

// MapEntry is a single key/value pair of a decoded map.
type MapEntry struct {
	Key   interface{}
	Value interface{}
}
