package rdfio

import "github.com/relique/qdb/pkg/qdberr"

func unsupportedFormat(f Format) error {
	return qdberr.Valuef("rdfio: unsupported format %s", f)
}

func syntaxf(line, col int, format string, args ...any) error {
	return qdberr.Syntaxf(line, col, format, args...)
}
