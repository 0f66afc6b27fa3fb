package rdfio

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/relique/qdb/pkg/rdf"
)

// parseRDFXML decodes RDF/XML in lenient (striped-syntax-tolerant) mode.
// Grounded on the teacher's pkg/rdf/rdfxml.go feature list (rdf:about,
// rdf:resource, rdf:nodeID, rdf:ID, rdf:datatype, xml:lang, xml:base,
// nested blank-node property values, rdf:li auto-numbering), reimplemented
// over encoding/xml.Decoder rather than the teacher's own tokenizer.
// encoding/xml never fetches an external DTD or entity, so this carries no
// XXE surface by construction — the safety property spec.md §4.8 asks for
// "no external entities" falls out of using the standard decoder rather
// than needing an explicit disable switch.
func parseRDFXML(input string, opts Options, sink QuadSink) error {
	return parseRDFXMLReader(strings.NewReader(input), opts, sink)
}

// parseRDFXMLReader decodes straight off the reader; encoding/xml's Decoder
// is already incremental, so RDF/XML streams without buffering the document.
func parseRDFXMLReader(r io.Reader, opts Options, sink QuadSink) error {
	dec := xml.NewDecoder(r)
	px := &rdfxmlParser{
		dec:       dec,
		opts:      opts,
		baseStack: []string{opts.BaseIRI},
		bnodeSeq:  0,
		sink:      sink,
	}
	for {
		tok, err := dec.Token()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			if opts.Lenient {
				return nil
			}
			return fmt.Errorf("rdfio: rdf/xml: %w", err)
		}
		if start, ok := tok.(xml.StartElement); ok {
			if isRDFRootElement(start) {
				if err := px.parseRDFRoot(start); err != nil {
					return err
				}
				continue
			}
			// A bare top-level node element without an enclosing rdf:RDF,
			// which RDF/XML permits.
			if err := px.parseNodeElement(start, rdf.NewDefaultGraph()); err != nil {
				return err
			}
		}
	}
}

func isRDFRootElement(e xml.StartElement) bool {
	return e.Name.Space == rdfxmlNS && e.Name.Local == "RDF"
}

const rdfxmlNS = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"

type rdfxmlParser struct {
	dec       *xml.Decoder
	opts      Options
	baseStack []string
	bnodeSeq  int
	nodeIDs   map[string]*rdf.BlankNode
	depth     int
	sink      QuadSink
}

func (p *rdfxmlParser) base() string { return p.baseStack[len(p.baseStack)-1] }

func (p *rdfxmlParser) pushBase(attr string) {
	nb := resolveIRI(p.base(), attr)
	p.baseStack = append(p.baseStack, nb)
}

func (p *rdfxmlParser) popBase() {
	if len(p.baseStack) > 1 {
		p.baseStack = p.baseStack[:len(p.baseStack)-1]
	}
}

func (p *rdfxmlParser) newBlankNode() *rdf.BlankNode {
	p.bnodeSeq++
	return rdf.NewBlankNode(fmt.Sprintf("rx%d", p.bnodeSeq))
}

func (p *rdfxmlParser) blankNodeForID(id string) *rdf.BlankNode {
	if p.nodeIDs == nil {
		p.nodeIDs = make(map[string]*rdf.BlankNode)
	}
	if b, ok := p.nodeIDs[id]; ok {
		return b
	}
	b := rdf.NewBlankNode("rxid-" + id)
	p.nodeIDs[id] = b
	return b
}

func attrValue(e xml.StartElement, space, local string) (string, bool) {
	for _, a := range e.Attr {
		if a.Name.Local == local && (a.Name.Space == space || (space == "" && a.Name.Space == "")) {
			return a.Value, true
		}
	}
	return "", false
}

func (p *rdfxmlParser) parseRDFRoot(root xml.StartElement) error {
	if base, ok := attrValue(root, "http://www.w3.org/XML/1998/namespace", "base"); ok {
		p.pushBase(base)
		defer p.popBase()
	}
	for {
		tok, err := p.dec.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if err := p.parseNodeElement(t, rdf.NewDefaultGraph()); err != nil {
				if p.opts.Lenient {
					if skipErr := p.skipElement(); skipErr != nil {
						return skipErr
					}
					continue
				}
				return err
			}
		case xml.EndElement:
			return nil
		}
	}
}

func (p *rdfxmlParser) skipElement() error {
	depth := 1
	for depth > 0 {
		tok, err := p.dec.Token()
		if err != nil {
			return err
		}
		switch tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		}
	}
	return nil
}

// parseNodeElement parses a node element (rdf:Description or a typed node),
// emitting an rdf:type triple for typed nodes and recursing into property
// elements; parseNodeElementSubject does the work and also returns the
// node's subject term.
func (p *rdfxmlParser) parseNodeElement(e xml.StartElement, graph rdf.Term) error {
	_, err := p.parseNodeElementSubject(e, graph)
	return err
}

func (p *rdfxmlParser) parseNodeElementSubject(e xml.StartElement, graph rdf.Term) (rdf.Term, error) {
	p.depth++
	if p.depth > p.opts.maxDepth() {
		return nil, syntaxf(0, 0, "rdf/xml: element nesting too deep")
	}
	defer func() { p.depth-- }()

	if base, ok := attrValue(e, "http://www.w3.org/XML/1998/namespace", "base"); ok {
		p.pushBase(base)
		defer p.popBase()
	}

	var subject rdf.Term
	switch {
	case hasAttr(e, rdfxmlNS, "about"):
		v, _ := attrValue(e, rdfxmlNS, "about")
		subject = rdf.NewNamedNode(resolveIRI(p.base(), v))
	case hasAttr(e, rdfxmlNS, "nodeID"):
		v, _ := attrValue(e, rdfxmlNS, "nodeID")
		subject = p.blankNodeForID(v)
	case hasAttr(e, rdfxmlNS, "ID"):
		v, _ := attrValue(e, rdfxmlNS, "ID")
		subject = rdf.NewNamedNode(resolveIRI(p.base(), "#"+v))
	default:
		subject = p.newBlankNode()
	}

	if !(e.Name.Space == rdfxmlNS && e.Name.Local == "Description") {
		typeIRI := e.Name.Space + e.Name.Local
		if err := p.sink(rdf.NewQuad(subject, rdf.RDFType, rdf.NewNamedNode(typeIRI), graph)); err != nil {
			return nil, err
		}
	}

	for _, a := range e.Attr {
		if a.Name.Space == rdfxmlNS && (a.Name.Local == "about" || a.Name.Local == "nodeID" || a.Name.Local == "ID") {
			continue
		}
		if a.Name.Space == "xmlns" || a.Name.Local == "xmlns" || a.Name.Space == "http://www.w3.org/XML/1998/namespace" {
			continue
		}
		if a.Name.Space == "" {
			continue // unqualified attributes are not RDF properties
		}
		propIRI := a.Name.Space + a.Name.Local
		if err := p.sink(rdf.NewQuad(subject, rdf.NewNamedNode(propIRI), rdf.NewLiteral(a.Value), graph)); err != nil {
			return nil, err
		}
	}

	liCounter := 0
	for {
		tok, err := p.dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if err := p.parsePropertyElement(t, subject, graph, &liCounter); err != nil {
				return nil, err
			}
		case xml.EndElement:
			return subject, nil
		}
	}
}

func hasAttr(e xml.StartElement, space, local string) bool {
	_, ok := attrValue(e, space, local)
	return ok
}

func (p *rdfxmlParser) parsePropertyElement(e xml.StartElement, subject rdf.Term, graph rdf.Term, liCounter *int) error {
	predIRI := e.Name.Space + e.Name.Local
	if e.Name.Space == rdfxmlNS && e.Name.Local == "li" {
		*liCounter++
		predIRI = fmt.Sprintf("%s_%d", rdfxmlNS, *liCounter)
	}
	predicate := rdf.NewNamedNode(predIRI)

	if resource, ok := attrValue(e, rdfxmlNS, "resource"); ok {
		obj := rdf.NewNamedNode(resolveIRI(p.base(), resource))
		if err := p.sink(rdf.NewQuad(subject, predicate, obj, graph)); err != nil {
			return err
		}
		return p.skipElement()
	}
	if nodeID, ok := attrValue(e, rdfxmlNS, "nodeID"); ok {
		obj := p.blankNodeForID(nodeID)
		if err := p.sink(rdf.NewQuad(subject, predicate, obj, graph)); err != nil {
			return err
		}
		return p.skipElement()
	}

	if parseType, ok := attrValue(e, rdfxmlNS, "parseType"); ok && parseType == "Resource" {
		nested := p.newBlankNode()
		if err := p.sink(rdf.NewQuad(subject, predicate, nested, graph)); err != nil {
			return err
		}
		innerLi := 0
		for {
			tok, err := p.dec.Token()
			if err != nil {
				return err
			}
			switch t := tok.(type) {
			case xml.StartElement:
				if err := p.parsePropertyElement(t, nested, graph, &innerLi); err != nil {
					return err
				}
			case xml.EndElement:
				return nil
			}
		}
	}

	// Peek: if the next significant token is a child element, this
	// property's value is a nested node element (resource value);
	// otherwise it is literal character data.
	var datatype *rdf.NamedNode
	if dt, ok := attrValue(e, rdfxmlNS, "datatype"); ok {
		datatype = rdf.NewNamedNode(resolveIRI(p.base(), dt))
	}
	lang, _ := attrValue(e, "http://www.w3.org/XML/1998/namespace", "lang")

	var text strings.Builder
	emittedResource := false
	for {
		tok, err := p.dec.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.CharData:
			text.Write(t)
		case xml.StartElement:
			obj, err := p.parseNodeElementSubject(t, graph)
			if err != nil {
				return err
			}
			if err := p.sink(rdf.NewQuad(subject, predicate, obj, graph)); err != nil {
				return err
			}
			emittedResource = true
		case xml.EndElement:
			value := text.String()
			// Whitespace around a nested node element is formatting, not a
			// literal value.
			if emittedResource || value == "" {
				return nil
			}
			var lit *rdf.Literal
			switch {
			case datatype != nil:
				lit = rdf.NewLiteralWithDatatype(value, datatype)
			case lang != "":
				lit = rdf.NewLiteralWithLanguage(value, lang)
			default:
				lit = rdf.NewLiteral(value)
			}
			return p.sink(rdf.NewQuad(subject, predicate, lit, graph))
		}
	}
}
