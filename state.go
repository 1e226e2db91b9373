package semcache

// State is one step of the request state machine.
type State uint8

const (
	// StateStart is the initial state.
	StateStart State = iota
	// StateSemanticLookup embeds the query and probes the QA cache.
	StateSemanticLookup
	// StateDocumentLookup probes the document index with the query vector.
	StateDocumentLookup
	// StateExternalRetrieve delegates to the external retriever.
	StateExternalRetrieve
	// StateGenerate produces the answer from the collected documents.
	StateGenerate
	// StateWriteBack stores the generated answer in the QA cache.
	StateWriteBack
	// StateReturned is the success terminal.
	StateReturned
	// StateFailed is the failure terminal.
	StateFailed
)

// String returns the string representation of the State.
func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateSemanticLookup:
		return "semantic_lookup"
	case StateDocumentLookup:
		return "document_lookup"
	case StateExternalRetrieve:
		return "external_retrieve"
	case StateGenerate:
		return "generate"
	case StateWriteBack:
		return "write_back"
	case StateReturned:
		return "returned"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Source labels where a returned answer came from.
type Source string

const (
	// SourceCache marks an answer served from the QA cache.
	SourceCache Source = "cache"
	// SourceGrounded marks an answer generated from indexed documents.
	SourceGrounded Source = "grounded"
	// SourceExternal marks an answer generated from externally retrieved
	// documents.
	SourceExternal Source = "external"
	// SourceUngrounded marks an answer generated without any documents.
	SourceUngrounded Source = "ungrounded"
)
