package domain

// Verdict is the classification of one bundle or package entry
type Verdict int

const (
	// OpaqueBinary entries are copied byte for byte
	OpaqueBinary Verdict = iota
	// TextArtifact entries are safe to rewrite
	TextArtifact
	// NativeExecutable entries must never be modified
	NativeExecutable
)

// String returns the log representation of the verdict
func (v Verdict) String() string {
	switch v {
	case NativeExecutable:
		return "native"
	case TextArtifact:
		return "text"
	case OpaqueBinary:
		return "opaque"
	default:
		return "unknown"
	}
}

// Rewritable reports whether the path rewrite rule may touch the content
func (v Verdict) Rewritable() bool {
	return v == TextArtifact
}
