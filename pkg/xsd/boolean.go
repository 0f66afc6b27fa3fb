package xsd

import "fmt"

// ParseBoolean accepts the XSD lexical space for boolean: true/false/1/0.
func ParseBoolean(s string) (bool, error) {
	switch s {
	case "true", "1":
		return true, nil
	case "false", "0":
		return false, nil
	default:
		return false, fmt.Errorf("xsd:boolean: invalid lexical form %q", s)
	}
}

func CanonicalBoolean(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
