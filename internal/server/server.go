// Package server implements the thin external-collaborator HTTP surface:
// the SPARQL 1.1 Protocol (query and update) and the SPARQL 1.1 Graph
// Store HTTP Protocol. Grounded on the teacher's internal/server/server.go
// (mux layout, CORS headers, content negotiation, writeError shape),
// generalized from the teacher's single-format JSON/XML-only result
// writer to the full pkg/sparql/results format set and extended with the
// update endpoint and graph store protocol the teacher never had (this
// store supports SPARQL Update; the teacher's parser did not).
package server

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/relique/qdb/pkg/qdberr"
	"github.com/relique/qdb/pkg/quadstore"
	"github.com/relique/qdb/pkg/rdf"
	"github.com/relique/qdb/pkg/rdfio"
	"github.com/relique/qdb/pkg/sparql/exec"
	"github.com/relique/qdb/pkg/sparql/parser"
	"github.com/relique/qdb/pkg/sparql/results"
	"github.com/relique/qdb/pkg/update"
)

// Server is the SPARQL 1.1 Protocol + Graph Store Protocol HTTP front end.
type Server struct {
	store      *quadstore.Store
	limits     *exec.Limits
	updater    *update.Executor
	addr       string
	cors       bool
	defaultAll bool // records Config.UnionDefaultGraph; no handler reads it, so queries outside GRAPH see only the default graph
}

// Config configures a Server. A nil Limits uses exec.DefaultLimits().
type Config struct {
	Addr              string
	CORS              bool
	UnionDefaultGraph bool
	Limits            *exec.Limits
}

func New(store *quadstore.Store, cfg Config) *Server {
	limits := cfg.Limits
	if limits == nil {
		limits = exec.DefaultLimits()
	}
	return &Server{
		store:      store,
		limits:     limits,
		updater:    update.New(store, limits),
		addr:       cfg.Addr,
		cors:       cfg.CORS,
		defaultAll: cfg.UnionDefaultGraph,
	}
}

// ListenAndServe blocks serving the SPARQL endpoints at s.addr.
func (s *Server) ListenAndServe() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/sparql", s.handleQuery)
	mux.HandleFunc("/update", s.handleUpdate)
	mux.HandleFunc("/data", s.handleGraphStore)
	mux.HandleFunc("/", s.handleRoot)

	srv := &http.Server{
		Addr:         s.addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	log.Printf("qdb: SPARQL endpoint listening at http://%s/sparql", s.addr)
	return srv.ListenAndServe()
}

func (s *Server) setCORS(w http.ResponseWriter) {
	if !s.cors {
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept")
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "qdb SPARQL endpoint\nquery:  GET/POST /sparql\nupdate: POST /update\ngraph store: /data?graph=<iri> or /data?default\n")
}

// handleQuery implements the SPARQL 1.1 Protocol's query operation
// (https://www.w3.org/TR/sparql11-protocol/#query-operation): query text
// from a GET's ?query= parameter, a direct application/sparql-query POST
// body, or a form-encoded POST's query field.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	s.setCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	queryString, err := extractOperation(r, "query")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if queryString == "" {
		s.writeError(w, http.StatusBadRequest, qdberr.Valuef("missing query"))
		return
	}

	q, err := parser.ParseQuery(queryString)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	txn, err := s.store.StartTransaction(false)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	defer txn.Rollback()

	res, err := exec.Run(q, txn, s.limits)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	s.writeResults(w, r, res)
}

// handleUpdate implements the SPARQL 1.1 Protocol's update operation: an
// application/sparql-update POST body, or a form-encoded POST's update
// field.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	s.setCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, qdberr.Valuef("update requires POST"))
		return
	}

	updateString, err := extractOperation(r, "update")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if updateString == "" {
		s.writeError(w, http.StatusBadRequest, qdberr.Valuef("missing update"))
		return
	}

	ops, err := parser.ParseUpdate(updateString)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()
	if err := s.updater.Execute(ctx, ops); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func extractOperation(r *http.Request, field string) (string, error) {
	switch r.Method {
	case http.MethodGet:
		return r.URL.Query().Get(field), nil
	case http.MethodPost:
		ct := r.Header.Get("Content-Type")
		switch {
		case strings.Contains(ct, "application/sparql-"+field):
			body, err := io.ReadAll(r.Body)
			if err != nil {
				return "", qdberr.Wrap(qdberr.Io, err, "read body")
			}
			return string(body), nil
		case strings.Contains(ct, "application/x-www-form-urlencoded"):
			if err := r.ParseForm(); err != nil {
				return "", qdberr.Wrap(qdberr.Value, err, "parse form")
			}
			return r.FormValue(field), nil
		default:
			body, err := io.ReadAll(r.Body)
			if err != nil {
				return "", qdberr.Wrap(qdberr.Io, err, "read body")
			}
			return string(body), nil
		}
	default:
		return "", qdberr.Valuef("method %s not allowed", r.Method)
	}
}

// handleGraphStore implements a subset of the SPARQL 1.1 Graph Store HTTP
// Protocol (https://www.w3.org/TR/sparql11-http-rdf-update/): GET/PUT/
// POST/DELETE against a graph selected by ?graph=<iri> or ?default.
func (s *Server) handleGraphStore(w http.ResponseWriter, r *http.Request) {
	s.setCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	graph, err := graphFromQuery(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.graphStoreGet(w, r, graph)
	case http.MethodPut:
		s.graphStorePut(w, r, graph, true)
	case http.MethodPost:
		s.graphStorePut(w, r, graph, false)
	case http.MethodDelete:
		s.graphStoreDelete(w, graph)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, qdberr.Valuef("method %s not allowed on graph store", r.Method))
	}
}

func graphFromQuery(r *http.Request) (rdf.Term, error) {
	q := r.URL.Query()
	if q.Has("default") {
		return rdf.NewDefaultGraph(), nil
	}
	if iri := q.Get("graph"); iri != "" {
		return rdf.NewNamedNode(iri), nil
	}
	return nil, qdberr.Valuef("graph store request missing ?graph= or ?default")
}

func (s *Server) graphStoreGet(w http.ResponseWriter, r *http.Request, graph rdf.Term) {
	txn, err := s.store.StartTransaction(false)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	defer txn.Rollback()

	it, err := txn.QuadsForPattern(&quadstore.Pattern{Graph: graph})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	defer it.Close()

	format := rdfio.FormatTurtle
	if ct, ok := rdfio.FormatFromContentType(r.Header.Get("Accept")); ok {
		format = ct
	}
	w.Header().Set("Content-Type", format.ContentType())
	wr := rdfio.NewWriter(w, format)
	for it.Next() {
		q, err := it.Quad()
		if err != nil {
			break
		}
		_ = wr.WriteQuad(q)
	}
	_ = wr.Close()
}

// graphStorePut loads the request body into graph, first clearing it when
// replace is true (PUT semantics) and leaving existing content otherwise
// (POST semantics, i.e. merge).
func (s *Server) graphStorePut(w http.ResponseWriter, r *http.Request, graph rdf.Term, replace bool) {
	format, ok := rdfio.FormatFromContentType(r.Header.Get("Content-Type"))
	if !ok {
		s.writeError(w, http.StatusUnsupportedMediaType, qdberr.Valuef("unrecognized Content-Type %q", r.Header.Get("Content-Type")))
		return
	}
	txn, err := s.store.StartTransaction(true)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	committed := false
	defer func() {
		if !committed {
			txn.Rollback()
		}
	}()

	if replace {
		if err := txn.ClearGraph(graph); err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
	}
	if _, isDefault := graph.(*rdf.DefaultGraph); !isDefault {
		if err := txn.InsertNamedGraph(graph); err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
	}

	n := 0
	err = rdfio.ParseReader(format, r.Body, rdfio.Options{}, func(q *rdf.Quad) error {
		if _, isDefault := q.Graph.(*rdf.DefaultGraph); isDefault {
			q.Graph = graph
		}
		if _, err := txn.Insert(q); err != nil {
			return err
		}
		n++
		return nil
	})
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := txn.Commit(); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	committed = true

	status := http.StatusOK
	if replace {
		status = http.StatusCreated
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"inserted":%d}`, n)
}

func (s *Server) graphStoreDelete(w http.ResponseWriter, graph rdf.Term) {
	txn, err := s.store.StartTransaction(true)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	committed := false
	defer func() {
		if !committed {
			txn.Rollback()
		}
	}()

	if _, isDefault := graph.(*rdf.DefaultGraph); isDefault {
		err = txn.ClearGraph(graph)
	} else {
		err = txn.RemoveNamedGraph(graph)
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := txn.Commit(); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	committed = true
	w.WriteHeader(http.StatusNoContent)
}

// writeResults negotiates a results.Format from the Accept header and
// writes res, or streams a CONSTRUCT/DESCRIBE result as RDF through
// pkg/rdfio when res carries triples instead of bindings.
func (s *Server) writeResults(w http.ResponseWriter, r *http.Request, res *exec.Results) {
	if res.Triples != nil {
		format := rdfio.FormatNTriples
		if f, ok := rdfio.FormatFromContentType(r.Header.Get("Accept")); ok {
			format = f
		}
		w.Header().Set("Content-Type", format.ContentType())
		wr := rdfio.NewWriter(w, format)
		for _, t := range res.Triples {
			_ = wr.WriteQuad(rdf.NewQuad(t.Subject, t.Predicate, t.Object, rdf.NewDefaultGraph()))
		}
		_ = wr.Close()
		return
	}

	format := negotiateFormat(r.Header.Get("Accept"))
	body, err := results.Marshal(res, format)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", format.ContentType()+"; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func negotiateFormat(accept string) results.Format {
	a := strings.ToLower(accept)
	switch {
	case strings.Contains(a, "sparql-results+xml"), strings.Contains(a, "text/xml"), strings.Contains(a, "application/xml"):
		return results.FormatXML
	case strings.Contains(a, "csv"):
		return results.FormatCSV
	case strings.Contains(a, "tab-separated"):
		return results.FormatTSV
	default:
		return results.FormatJSON
	}
}

// statusFor maps an evaluation failure to the HTTP status the SPARQL
// Protocol front end reports: 400 for syntax/value errors, 503 for resource
// limits (the request may succeed once load drops or with tighter bounds),
// 500 for everything storage-shaped.
func statusFor(err error) int {
	switch {
	case qdberr.Is(err, qdberr.Syntax), qdberr.Is(err, qdberr.Value):
		return http.StatusBadRequest
	case qdberr.Is(err, qdberr.ResourceLimit):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	log.Printf("qdb: request error: %v", err)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":%s}`, strconv.Quote(err.Error()))
}
