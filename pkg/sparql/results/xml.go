package results

import (
	"encoding/xml"

	"github.com/relique/qdb/pkg/rdf"
	"github.com/relique/qdb/pkg/sparql/algebra"
	"github.com/relique/qdb/pkg/sparql/exec"
)

// xmlDoc mirrors the W3C SPARQL Query Results XML Format
// (https://www.w3.org/TR/rdf-sparql-XMLres/).
type xmlDoc struct {
	XMLName xml.Name      `xml:"sparql"`
	XMLNS   string        `xml:"xmlns,attr"`
	Head    xmlHead       `xml:"head"`
	Results *xmlResultSet `xml:"results,omitempty"`
	Boolean *bool         `xml:"boolean,omitempty"`
}

type xmlHead struct {
	Variables []xmlVariable `xml:"variable"`
}

type xmlVariable struct {
	Name string `xml:"name,attr"`
}

type xmlResultSet struct {
	Results []xmlResult `xml:"result"`
}

type xmlResult struct {
	Bindings []xmlBinding `xml:"binding"`
}

type xmlBinding struct {
	Name    string      `xml:"name,attr"`
	URI     *string     `xml:"uri,omitempty"`
	BNode   *string     `xml:"bnode,omitempty"`
	Literal *xmlLiteral `xml:"literal,omitempty"`
}

type xmlLiteral struct {
	Value    string `xml:",chardata"`
	Lang     string `xml:"lang,attr,omitempty"`
	Datatype string `xml:"datatype,attr,omitempty"`
}

func marshalXML(r *exec.Results) ([]byte, error) {
	doc := xmlDoc{XMLNS: "http://www.w3.org/2005/sparql-results#"}

	if r.Form == algebra.FormAsk {
		b := r.Boolean
		doc.Boolean = &b
		return encodeXML(doc)
	}

	vars := resultVars(r)
	for _, v := range vars {
		doc.Head.Variables = append(doc.Head.Variables, xmlVariable{Name: string(v)})
	}

	set := &xmlResultSet{}
	for _, row := range r.Rows {
		var res xmlResult
		for _, v := range vars {
			term, ok := row[v]
			if !ok {
				continue
			}
			res.Bindings = append(res.Bindings, termToXMLBinding(string(v), term))
		}
		set.Results = append(set.Results, res)
	}
	doc.Results = set

	return encodeXML(doc)
}

func encodeXML(doc xmlDoc) ([]byte, error) {
	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	header := []byte(xml.Header)
	return append(header, out...), nil
}

func termToXMLBinding(name string, t rdf.Term) xmlBinding {
	b := xmlBinding{Name: name}
	switch v := t.(type) {
	case *rdf.NamedNode:
		b.URI = &v.IRI
	case *rdf.BlankNode:
		b.BNode = &v.ID
	case *rdf.Literal:
		lit := &xmlLiteral{Value: v.Value}
		if v.Language != "" {
			lit.Lang = v.Language
		} else if v.Datatype != nil && v.Datatype.IRI != rdf.XSDString.IRI {
			lit.Datatype = v.Datatype.IRI
		}
		b.Literal = lit
	default:
		lit := &xmlLiteral{Value: t.String()}
		b.Literal = lit
	}
	return b
}
