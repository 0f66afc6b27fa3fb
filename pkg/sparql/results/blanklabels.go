package results

import (
	"fmt"

	"github.com/relique/qdb/pkg/rdf"
	"github.com/relique/qdb/pkg/sparql/exec"
)

// canonicalBlankLabels assigns each distinct blank node appearing in r's
// rows a deterministic b0, b1, b2, ... label in first-appearance order, per
// the teacher's createBlankNodeMapping{,TSV} in pkg/server/results — CSV
// and TSV have no native blank-node syntax, so both formats need a stable
// per-document relabeling rather than the store's internal id.
func canonicalBlankLabels(r *exec.Results) map[string]string {
	labels := make(map[string]string)
	counter := 0
	vars := resultVars(r)
	for _, row := range r.Rows {
		for _, v := range vars {
			if bn, ok := row[v].(*rdf.BlankNode); ok {
				if _, seen := labels[bn.ID]; !seen {
					labels[bn.ID] = fmt.Sprintf("b%d", counter)
					counter++
				}
			}
		}
	}
	return labels
}
